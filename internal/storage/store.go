package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrInvalidProduct is returned for a product without an id.
var ErrInvalidProduct = errors.New("product id is required")

// Product is one inventory record.
type Product struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"`
	InStock   bool    `json:"in_stock"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Version   uint64  `json:"version"`
}

// Store defines the interface for inventory storage.
type Store interface {
	// Get retrieves a product by id. Returns nil if not found.
	Get(productID string) (*Product, error)
	// List returns the products in category ordered by id. An empty
	// category lists everything.
	List(category string) ([]Product, error)
	// Put stores p and returns the new version.
	Put(p Product) (uint64, error)
	// PutRepair overwrites stock fields from a consensus value without
	// touching name, category or price. Unknown products are created.
	PutRepair(p Product) error
	Close() error
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Product
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]*Product),
	}
}

// Get retrieves a product by id.
func (s *InMemoryStore) Get(productID string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[productID]
	if !exists {
		return nil, nil
	}
	// Return a copy to avoid external modifications
	cp := *p
	return &cp, nil
}

// List returns products in category.
func (s *InMemoryStore) List(category string) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Product, 0, len(s.data))
	for _, p := range s.data {
		if category == "" || p.Category == category {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Put stores a product, incrementing its version.
func (s *InMemoryStore) Put(p Product) (uint64, error) {
	if p.ProductID == "" {
		return 0, ErrInvalidProduct
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Version = 1
	if existing, exists := s.data[p.ProductID]; exists {
		p.Version = existing.Version + 1
	}
	s.data[p.ProductID] = &p
	return p.Version, nil
}

// PutRepair applies a repaired stock level.
func (s *InMemoryStore) PutRepair(p Product) error {
	if p.ProductID == "" {
		return ErrInvalidProduct
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[p.ProductID] = repaired(s.data[p.ProductID], p)
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}

// repaired merges the stock fields of incoming into existing.
func repaired(existing *Product, incoming Product) *Product {
	if existing == nil {
		incoming.Version = 1
		return &incoming
	}
	out := *existing
	out.InStock = incoming.InStock
	out.Quantity = incoming.Quantity
	out.Version++
	return &out
}

// DefaultProducts is the initial inventory.
func DefaultProducts() []Product {
	return []Product{
		{ProductID: "P001", Name: "Laptop", Category: "computers", InStock: true, Quantity: 50, Price: 1200.0},
		{ProductID: "P002", Name: "Mouse", Category: "accessories", InStock: true, Quantity: 200, Price: 25.5},
		{ProductID: "P003", Name: "Keyboard", Category: "accessories", InStock: false, Quantity: 0, Price: 45.0},
	}
}

// Seed inserts products that are not already present and returns how many
// were added.
func Seed(s Store, products []Product) (int, error) {
	added := 0
	for _, p := range products {
		existing, err := s.Get(p.ProductID)
		if err != nil {
			return added, err
		}
		if existing != nil {
			continue
		}
		if _, err := s.Put(p); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
