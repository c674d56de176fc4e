package activities

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultUnknownAvailable is the stock assumed for products missing from
// a catalog.
const DefaultUnknownAvailable = 10

// Inventory reports the available quantity of a product
type Inventory interface {
	Available(ctx context.Context, productID string) (int, error)
}

// Catalog is an in-memory inventory table, safe for concurrent reads.
type Catalog struct {
	mu       sync.RWMutex
	stock    map[string]int
	fallback int
}

// CatalogFile models an inventory YAML file:
//
//	default_available: 10
//	products:
//	  prod-1: 100
//	  out-of-stock-item: 0
type CatalogFile struct {
	DefaultAvailable *int           `yaml:"default_available,omitempty"`
	Products         map[string]int `yaml:"products"`
}

// NewCatalog returns a catalog over stock, answering defaultAvailable for
// unknown products.
func NewCatalog(stock map[string]int, defaultAvailable int) *Catalog {
	c := &Catalog{stock: make(map[string]int, len(stock)), fallback: defaultAvailable}
	for id, qty := range stock {
		c.stock[id] = qty
	}
	return c
}

// DefaultCatalog returns the demo inventory table.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[string]int{
		"prod-1":            100,
		"prod-2":            50,
		"prod-3":            25,
		"out-of-stock-item": 0,
	}, DefaultUnknownAvailable)
}

// LoadCatalog reads a catalog from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a catalog from YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("inventory: parse catalog: %w", err)
	}
	defaultAvailable := DefaultUnknownAvailable
	if file.DefaultAvailable != nil {
		defaultAvailable = *file.DefaultAvailable
	}
	if defaultAvailable < 0 {
		return nil, fmt.Errorf("inventory: default_available must not be negative")
	}
	for id, qty := range file.Products {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("inventory: product id must not be empty")
		}
		if qty < 0 {
			return nil, fmt.Errorf("inventory: product %s: quantity must not be negative", id)
		}
	}
	return NewCatalog(file.Products, defaultAvailable), nil
}

func (c *Catalog) Available(ctx context.Context, productID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if qty, ok := c.stock[productID]; ok {
		return qty, nil
	}
	return c.fallback, nil
}

// Set replaces the stock level of a product.
func (c *Catalog) Set(productID string, qty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[productID] = qty
}
