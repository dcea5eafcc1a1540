package debt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists debts and payments. AddPayment must apply the increment
// atomically and refuse to push paid above total.
type Store interface {
	// Create inserts d and, when initial is non-nil, its first payment as one
	// unit. It returns ErrDuplicate when the sale already has a debt.
	Create(ctx context.Context, d Debt, initial *Payment) (Debt, error)
	Get(ctx context.Context, id uuid.UUID) (Debt, error)
	BySale(ctx context.Context, saleID uuid.UUID) (Debt, error)
	// AddPayment appends p, increments paid and stores the status derived at
	// now. It returns the updated debt and the status it had before.
	AddPayment(ctx context.Context, p Payment, now time.Time) (Debt, Status, error)
	Payments(ctx context.Context, debtID uuid.UUID) ([]Payment, error)
	// Unsettled lists debts that are not yet paid.
	Unsettled(ctx context.Context) ([]Debt, error)
	// SetStatus moves a debt from one status to another, reporting false when
	// the debt was no longer in the from status.
	SetStatus(ctx context.Context, id uuid.UUID, from, to Status, now time.Time) (bool, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	debts    map[uuid.UUID]Debt
	bySale   map[uuid.UUID]uuid.UUID
	payments map[uuid.UUID][]Payment
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		debts:    map[uuid.UUID]Debt{},
		bySale:   map[uuid.UUID]uuid.UUID{},
		payments: map[uuid.UUID][]Payment{},
	}
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, d Debt, initial *Payment) (Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bySale[d.SaleID]; exists {
		return Debt{}, ErrDuplicate
	}
	if d.Paid.GreaterThan(d.Total) || d.Paid.IsNegative() {
		return Debt{}, ErrOverpayment
	}
	m.debts[d.ID] = d
	m.bySale[d.SaleID] = d.ID
	if initial != nil {
		m.payments[d.ID] = append(m.payments[d.ID], *initial)
	}
	return d, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[id]
	if !ok {
		return Debt{}, ErrNotFound
	}
	return d, nil
}

// BySale implements Store.
func (m *Memory) BySale(_ context.Context, saleID uuid.UUID) (Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySale[saleID]
	if !ok {
		return Debt{}, ErrNotFound
	}
	return m.debts[id], nil
}

// AddPayment implements Store.
func (m *Memory) AddPayment(_ context.Context, p Payment, now time.Time) (Debt, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[p.DebtID]
	if !ok {
		return Debt{}, "", ErrNotFound
	}
	paid := d.Paid.Add(p.Amount)
	if paid.GreaterThan(d.Total) {
		return Debt{}, "", ErrOverpayment
	}
	prev := d.Status
	d.Paid = paid
	d.Status = StatusFor(d.Total, d.Paid, d.DueDate, now)
	d.UpdatedAt = now
	m.debts[d.ID] = d
	m.payments[d.ID] = append(m.payments[d.ID], p)
	return d, prev, nil
}

// Payments implements Store.
func (m *Memory) Payments(_ context.Context, debtID uuid.UUID) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.debts[debtID]; !ok {
		return nil, ErrNotFound
	}
	return append([]Payment(nil), m.payments[debtID]...), nil
}

// Unsettled implements Store.
func (m *Memory) Unsettled(_ context.Context) ([]Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Debt
	for _, d := range m.debts {
		if d.Status != StatusPaid {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SetStatus implements Store.
func (m *Memory) SetStatus(_ context.Context, id uuid.UUID, from, to Status, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[id]
	if !ok {
		return false, ErrNotFound
	}
	if d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = now
	m.debts[id] = d
	return true, nil
}
