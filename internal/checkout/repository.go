package checkout

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/retail-pos/internal/inventory"
)

// Repository persists sales. Create must reserve every movement and store the
// sale as one unit: when any reservation fails nothing is written.
type Repository interface {
	Create(ctx context.Context, sale Sale, reserve []inventory.Movement) (Sale, error)
	Get(ctx context.Context, id uuid.UUID) (Sale, error)
	GetByNumber(ctx context.Context, number string) (Sale, error)
	// List returns sales newest first with the total count.
	List(ctx context.Context, limit, offset int) ([]Sale, int, error)
}

// MemoryRepository keeps sales in process on top of the memory ledger.
type MemoryRepository struct {
	Inventory *inventory.Memory

	mu       sync.RWMutex
	sales    map[uuid.UUID]Sale
	byNumber map[string]uuid.UUID
	order    []uuid.UUID
}

// NewMemoryRepository returns an empty repository reserving from inv.
func NewMemoryRepository(inv *inventory.Memory) *MemoryRepository {
	return &MemoryRepository{
		Inventory: inv,
		sales:     map[uuid.UUID]Sale{},
		byNumber:  map[string]uuid.UUID{},
	}
}

// Create implements Repository.
func (m *MemoryRepository) Create(ctx context.Context, sale Sale, reserve []inventory.Movement) (Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byNumber[sale.Number]; taken {
		return Sale{}, ErrNumberTaken
	}
	if m.Inventory != nil {
		if err := m.Inventory.ReserveAll(ctx, reserve); err != nil {
			return Sale{}, err
		}
	}
	sale.Lines = append([]SaleLine(nil), sale.Lines...)
	m.sales[sale.ID] = sale
	m.byNumber[sale.Number] = sale.ID
	m.order = append(m.order, sale.ID)
	return sale, nil
}

// Get implements Repository.
func (m *MemoryRepository) Get(_ context.Context, id uuid.UUID) (Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

// GetByNumber implements Repository.
func (m *MemoryRepository) GetByNumber(ctx context.Context, number string) (Sale, error) {
	m.mu.RLock()
	id, ok := m.byNumber[number]
	m.mu.RUnlock()
	if !ok {
		return Sale{}, ErrNotFound
	}
	return m.Get(ctx, id)
}

// List implements Repository.
func (m *MemoryRepository) List(_ context.Context, limit, offset int) ([]Sale, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]Sale, 0, len(m.order))
	for _, id := range m.order {
		all = append(all, m.sales[id])
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Number > all[j].Number })
	total := len(all)
	if offset >= total {
		return []Sale{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// Count returns the number of stored sales.
func (m *MemoryRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sales)
}
