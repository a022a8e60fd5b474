// Package openfoodfacts provides a minimal client for the Open Food
// Facts product API, used to resolve barcodes to brand and product names.
package openfoodfacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://world.openfoodfacts.org"

// ErrProductNotFound is returned when a barcode has no product record.
var ErrProductNotFound = eris.New("openfoodfacts: product not found")

// Client looks up products by barcode.
type Client interface {
	GetProduct(ctx context.Context, barcode string) (*Product, error)
}

// Product holds the fields we need from a product record.
type Product struct {
	Barcode     string
	ProductName string
	Brands      []string
	Quantity    string
	Countries   string
}

// PrimaryBrand returns the first listed brand, or empty string.
func (p *Product) PrimaryBrand() string {
	if len(p.Brands) == 0 {
		return ""
	}
	return p.Brands[0]
}

// productResponse is the raw API envelope for GET /api/v2/product/{code}.
type productResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Product struct {
		ProductName string `json:"product_name"`
		Brands      string `json:"brands"`
		Quantity    string `json:"quantity"`
		Countries   string `json:"countries"`
	} `json:"product"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithUserAgent sets the User-Agent header. Open Food Facts asks API
// consumers to identify themselves.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates an Open Food Facts client. The API requires no key.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: "ownership-cli",
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) GetProduct(ctx context.Context, barcode string) (*Product, error) {
	reqURL := fmt.Sprintf("%s/api/v2/product/%s.json?fields=product_name,brands,quantity,countries", c.baseURL, barcode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: read response")
	}

	// The API answers 404 with a status=0 JSON body for unknown barcodes.
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("openfoodfacts: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result productResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "openfoodfacts: unmarshal response")
	}
	if result.Status != 1 {
		return nil, ErrProductNotFound
	}

	return &Product{
		Barcode:     result.Code,
		ProductName: result.Product.ProductName,
		Brands:      splitBrands(result.Product.Brands),
		Quantity:    result.Product.Quantity,
		Countries:   result.Product.Countries,
	}, nil
}

// splitBrands splits the comma-separated brands field into trimmed names.
func splitBrands(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
