package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupNormalizes(t *testing.T) {
	r := NewRegistry([]Mapping{
		{Brand: "Nescafé", Owner: "Nestle S.A."},
		{Brand: "Ben & Jerry's", Owner: "Unilever PLC"},
	})

	for _, brand := range []string{"Nescafe", "NESCAFÉ", "  nescafe  "} {
		m, ok := r.Lookup(brand)
		require.True(t, ok, "brand %q", brand)
		assert.Equal(t, "Nestle S.A.", m.Owner)
	}

	m, ok := r.Lookup("ben and jerrys")
	require.True(t, ok)
	assert.Equal(t, "Unilever PLC", m.Owner)

	_, ok = r.Lookup("Unknown Brand")
	assert.False(t, ok)
	_, ok = r.Lookup("")
	assert.False(t, ok)
}

func TestRegistryLaterEntryWins(t *testing.T) {
	r := NewRegistry([]Mapping{
		{Brand: "Nescafe", Owner: "Old Owner"},
		{Brand: "Nescafé", Owner: "Nestle S.A."},
	})

	assert.Equal(t, 1, r.Len())
	m, ok := r.Lookup("nescafe")
	require.True(t, ok)
	assert.Equal(t, "Nestle S.A.", m.Owner)
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry([]Mapping{{Brand: "Nescafe", Owner: "Nestle S.A."}})

	r.Replace([]Mapping{{Brand: "Cheerios", Owner: "General Mills, Inc."}})

	_, ok := r.Lookup("Nescafe")
	assert.False(t, ok)
	m, ok := r.Lookup("Cheerios")
	require.True(t, ok)
	assert.Equal(t, "General Mills, Inc.", m.Owner)
	assert.Len(t, r.All(), 1)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")

	in := []Mapping{
		{
			Brand:      "Nescafe",
			Owner:      "Nestle S.A.",
			Country:    "CH",
			Chain:      []string{"Nestle Nespresso S.A."},
			Confidence: 97,
			SourceURL:  "https://www.nestle.com/brands",
			Notes:      "coffee portfolio",
		},
		{Brand: "Cheerios", Owner: "General Mills, Inc."},
	}
	require.NoError(t, SaveToFile(path, in))

	out, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadFromFileRejectsIncompleteEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mappings:\n  - brand: Orphan\n"), 0o644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing brand or owner")
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
