// Package catalog describes the products a cart line can reference.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog record consulted when qualifying a cart line.
type Product struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	CategoryID string          `json:"category_id" yaml:"category_id"`
	Brand      string          `json:"brand,omitempty" yaml:"brand"`
	Price      decimal.Decimal `json:"price" yaml:"price"`
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Lookup resolves product ids synchronously, without I/O.
type Lookup interface {
	Lookup(id string) (Product, bool)
}

// Index is an in-memory Lookup keyed by product id.
type Index map[string]Product

var _ Lookup = Index(nil)

// NewIndex builds an Index from a product list. Later duplicates win.
func NewIndex(products ...Product) Index {
	idx := make(Index, len(products))
	for _, p := range products {
		idx[p.ID] = p
	}
	return idx
}

// Lookup implements Lookup.
func (idx Index) Lookup(id string) (Product, bool) {
	p, ok := idx[id]
	return p, ok
}
