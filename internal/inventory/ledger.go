// Package inventory owns every downward change to on-hand stock. Reservations
// are single conditional decrements, never a read followed by a write.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/common"
)

var (
	// ErrUnknownItem is returned when a reservation names a product that does not exist.
	ErrUnknownItem = fmt.Errorf("inventory item %w", common.ErrNotFound)
	// ErrInvalidQuantity is returned for non-positive reserve or restock quantities.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", common.ErrValidation)
)

// Ledger reserves and restocks product quantities atomically.
type Ledger interface {
	Reserve(ctx context.Context, code string, qty int) error
	Restock(ctx context.Context, code string, qty int) error
	OnHand(ctx context.Context, code string) (int, error)
}

// Movement is a signed stock change for one product. Positive quantities are
// reservations, negative ones return stock.
type Movement struct {
	Code     string
	Quantity int
}

// Net folds movements by base product code and drops zero nets. The result is
// sorted by code so concurrent batches touch rows in the same order.
func Net(movements []Movement) []Movement {
	totals := make(map[string]int, len(movements))
	for _, m := range movements {
		code := catalog.BaseCode(m.Code)
		if code == "" {
			continue
		}
		totals[code] += m.Quantity
	}
	out := make([]Movement, 0, len(totals))
	for code, qty := range totals {
		if qty == 0 {
			continue
		}
		out = append(out, Movement{Code: code, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func checkArgs(code string, qty int) error {
	if strings.TrimSpace(code) == "" {
		return common.Validation("item code is required")
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}
