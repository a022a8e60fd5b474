// Package model defines the core data types for ownership resolution.
package model

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// ErrEmptyQuery is returned when a query carries no usable product identity.
var ErrEmptyQuery = eris.New("model: query requires at least one of brand, product name, or barcode")

// OwnershipQuery is the immutable input unit for one resolution.
type OwnershipQuery struct {
	QueryID     string            `json:"query_id"`
	Brand       string            `json:"brand,omitempty"`
	ProductName string            `json:"product_name,omitempty"`
	Barcode     string            `json:"barcode,omitempty"`
	Hints       map[string]string `json:"hints,omitempty"`
}

// NewQuery validates the inputs and assigns a query ID. It is the only
// error surface visible to external callers; everything past this point
// resolves to a structured result.
func NewQuery(brand, productName, barcode string, hints map[string]string) (OwnershipQuery, error) {
	if brand == "" && productName == "" && barcode == "" {
		return OwnershipQuery{}, ErrEmptyQuery
	}
	return OwnershipQuery{
		QueryID:     uuid.New().String(),
		Brand:       brand,
		ProductName: productName,
		Barcode:     barcode,
		Hints:       hints,
	}, nil
}

// Subject returns the best human-readable identifier for logging.
func (q OwnershipQuery) Subject() string {
	switch {
	case q.Brand != "" && q.ProductName != "":
		return q.Brand + " / " + q.ProductName
	case q.Brand != "":
		return q.Brand
	case q.ProductName != "":
		return q.ProductName
	default:
		return q.Barcode
	}
}
