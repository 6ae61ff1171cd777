package catalog

import (
	"errors"
	"strings"
)

// Product is a catalog entry. ExternalID is set only for rows that originate from the feed.
type Product struct {
	ID         int64   `json:"id"`
	ExternalID *int64  `json:"external_id,omitempty"`
	Title      string  `json:"title"`
	Handle     *string `json:"handle,omitempty"`
	Vendor     *string `json:"vendor,omitempty"`
}

// Variant belongs to exactly one Product.
type Variant struct {
	ID         int64   `json:"id"`
	ExternalID *int64  `json:"external_id,omitempty"`
	ProductID  int64   `json:"product_id"`
	Title      string  `json:"title"`
	SKU        *string `json:"sku,omitempty"`
	Price      *string `json:"price,omitempty"`
}

// ReconcileStats summarises row-level effects of a reconciliation pass.
type ReconcileStats struct {
	Products        int
	ProductsCreated int
	ProductsUpdated int
	VariantsCreated int
	VariantsUpdated int
	VariantsMoved   int
}

var (
	// ErrProductNotFound indicates the product id does not exist.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrVariantNotFound indicates the variant id does not exist.
	ErrVariantNotFound = errors.New("catalog: variant not found")
	// ErrInvalidProduct indicates the product input failed validation.
	ErrInvalidProduct = errors.New("catalog: invalid product")
	// ErrNotInTrash indicates no deleted product is stashed under the id.
	ErrNotInTrash = errors.New("catalog: no deleted product stashed")
	// ErrDuplicateExternalID indicates a unique external id constraint fired.
	ErrDuplicateExternalID = errors.New("catalog: duplicate external id")
)

func int64Ptr(v int64) *int64 {
	return &v
}

// optionalString maps blank input to nil.
func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Deref returns the value of an optional string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
