package inventory

import (
	"context"
	"errors"

	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/obs"
)

// Memory is a ledger over an in-process catalog. Every change happens under the
// catalog write lock, so it honours the same conditional-decrement contract as
// the Postgres ledger.
type Memory struct {
	Catalog *catalog.Memory
}

// NewMemory returns a ledger over c.
func NewMemory(c *catalog.Memory) *Memory {
	return &Memory{Catalog: c}
}

// Reserve decrements on-hand by qty when enough stock is available.
func (m *Memory) Reserve(_ context.Context, code string, qty int) error {
	if err := checkArgs(code, qty); err != nil {
		return err
	}
	err := m.Catalog.Update(code, func(p *catalog.Product) error {
		if p.OnHand < qty {
			return &common.StockError{Code: p.Code, Available: p.OnHand, Requested: qty}
		}
		p.OnHand -= qty
		return nil
	})
	return m.wrap(err)
}

// Restock increments on-hand by qty.
func (m *Memory) Restock(_ context.Context, code string, qty int) error {
	if err := checkArgs(code, qty); err != nil {
		return err
	}
	err := m.Catalog.Update(code, func(p *catalog.Product) error {
		p.OnHand += qty
		return nil
	})
	return m.wrap(err)
}

// OnHand returns the current quantity for code.
func (m *Memory) OnHand(ctx context.Context, code string) (int, error) {
	p, err := m.Catalog.GetByCode(ctx, code)
	if err != nil {
		return 0, m.wrap(err)
	}
	return p.OnHand, nil
}

// ReserveAll applies every movement or none of them.
func (m *Memory) ReserveAll(_ context.Context, movements []Movement) error {
	net := Net(movements)
	if len(net) == 0 {
		return nil
	}
	codes := make([]string, len(net))
	want := make(map[string]int, len(net))
	for i, mv := range net {
		codes[i] = mv.Code
		want[mv.Code] = mv.Quantity
	}
	err := m.Catalog.UpdateAll(codes, func(p *catalog.Product) error {
		qty := want[p.Code]
		if qty > 0 && p.OnHand < qty {
			return &common.StockError{Code: p.Code, Available: p.OnHand, Requested: qty}
		}
		p.OnHand -= qty
		return nil
	})
	return m.wrap(err)
}

func (m *Memory) wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrInsufficientStock):
		obs.CountInventoryRejection()
		return err
	case errors.Is(err, common.ErrNotFound):
		return ErrUnknownItem
	default:
		return err
	}
}
