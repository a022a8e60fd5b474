package openfoodfacts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/product/3017620422003.json", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))

		w.Write([]byte(`{
			"status": 1,
			"code": "3017620422003",
			"product": {
				"product_name": "Nutella",
				"brands": "Nutella, Ferrero",
				"quantity": "400 g",
				"countries": "France, Germany"
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))

	p, err := c.GetProduct(context.Background(), "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, "3017620422003", p.Barcode)
	assert.Equal(t, "Nutella", p.ProductName)
	assert.Equal(t, []string{"Nutella", "Ferrero"}, p.Brands)
	assert.Equal(t, "Nutella", p.PrimaryBrand())
	assert.Equal(t, "France, Germany", p.Countries)
}

func TestGetProductNotFound(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http 404", http.StatusNotFound, `{"status": 0}`},
		{"status zero body", http.StatusOK, `{"status": 0, "code": "000"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(WithBaseURL(srv.URL))
			_, err := c.GetProduct(context.Background(), "000")
			assert.ErrorIs(t, err, ErrProductNotFound)
		})
	}
}

func TestPrimaryBrandEmpty(t *testing.T) {
	p := &Product{}
	assert.Empty(t, p.PrimaryBrand())
}

func TestSplitBrands(t *testing.T) {
	assert.Nil(t, splitBrands(""))
	assert.Equal(t, []string{"Nutella", "Ferrero"}, splitBrands(" Nutella , Ferrero ,"))
}
