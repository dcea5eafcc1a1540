package catalog

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process catalog used by tests and local runs.
type Memory struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemory seeds a catalog with products.
func NewMemory(products ...Product) *Memory {
	m := &Memory{products: make(map[string]Product, len(products))}
	for _, p := range products {
		m.products[p.Code] = p
	}
	return m
}

// GetByCode implements Reader.
func (m *Memory) GetByCode(_ context.Context, code string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[code]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// Put inserts or replaces a product.
func (m *Memory) Put(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Code] = p
}

// Update applies fn to the stored product under the write lock. The change is
// kept only when fn returns nil.
func (m *Memory) Update(code string, fn func(*Product) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[code]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&p); err != nil {
		return err
	}
	m.products[code] = p
	return nil
}

// UpdateAll applies fn to every listed product under one write lock; nothing is
// kept unless fn succeeds for all of them.
func (m *Memory) UpdateAll(codes []string, fn func(*Product) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	staged := make(map[string]Product, len(codes))
	for _, code := range codes {
		p, ok := staged[code]
		if !ok {
			if p, ok = m.products[code]; !ok {
				return fmt.Errorf("%s: %w", code, ErrNotFound)
			}
		}
		if err := fn(&p); err != nil {
			return err
		}
		staged[code] = p
	}
	for code, p := range staged {
		m.products[code] = p
	}
	return nil
}
