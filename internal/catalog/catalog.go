// Package catalog exposes the product price lookup the order service depends
// on. The real catalog lives in another system; this package carries the
// contract and a static implementation for development and tests.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownProduct marks a lookup for a product id the catalog does not carry.
var ErrUnknownProduct = errors.New("unknown product")

// Catalog resolves current unit prices by product id.
type Catalog interface {
	Price(ctx context.Context, productID string) (int64, error)
}

// StaticCatalog serves prices from a fixed in-memory table.
type StaticCatalog struct {
	mu     sync.RWMutex
	prices map[string]int64 // cents
}

// NewStaticCatalog constructs a catalog from the given price table.
func NewStaticCatalog(prices map[string]int64) *StaticCatalog {
	table := make(map[string]int64, len(prices))
	for id, price := range prices {
		table[id] = price
	}
	return &StaticCatalog{prices: table}
}

// Price returns the unit price in cents for the product.
func (c *StaticCatalog) Price(ctx context.Context, productID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	return price, nil
}

// SetPrice adds or updates a product price.
func (c *StaticCatalog) SetPrice(productID string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[productID] = price
}
