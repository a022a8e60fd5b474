package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Nescafe", "NESCAFE"},
		{"diacritics", "Nestlé", "NESTLE"},
		{"legal suffix", "Nestlé S.A.", "NESTLE"},
		{"plc suffix", "Unilever PLC", "UNILEVER"},
		{"ampersand", "Ben & Jerry's", "BEN AND JERRYS"},
		{"hyphen", "Coca-Cola", "COCA COLA"},
		{"whitespace", "  Mars   Inc  ", "MARS"},
		{"empty", "", ""},
		{"trademark", "Oreo®", "OREO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Brand(tt.in))
		})
	}
}

func TestBrandVariantsCollide(t *testing.T) {
	variants := []string{"Nestlé S.A.", "NESTLE SA", "nestle", "  Nestle  "}
	want := Brand(variants[0])
	for _, v := range variants[1:] {
		assert.Equal(t, want, Brand(v), v)
	}
}

func TestBarcode(t *testing.T) {
	assert.Equal(t, "3017620422003", Barcode("3017620422003"))
	assert.Equal(t, "3017620422003", Barcode(" 3017-6204-22003 "))
	assert.Equal(t, "", Barcode("no digits"))
}

func TestFingerprint(t *testing.T) {
	// Barcode wins over name components.
	assert.Equal(t, "bc:3017620422003", Fingerprint("Ferrero", "Nutella", "3017620422003"))

	// Name-based keys are stable across input variants.
	a := Fingerprint("Nestlé S.A.", "KitKat", "")
	b := Fingerprint("NESTLE SA", "kitkat", "")
	assert.Equal(t, a, b)

	// Different products under the same brand do not collide.
	assert.NotEqual(t,
		Fingerprint("Nestle", "KitKat", ""),
		Fingerprint("Nestle", "Smarties", ""),
	)

	// Brand-only and brand+product do not collide.
	assert.NotEqual(t,
		Fingerprint("Nestle", "", ""),
		Fingerprint("Nestle", "KitKat", ""),
	)
}
