// Package catalog exposes the read side of the product catalog used by the
// cart and commit paths.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/common"
)

// ErrNotFound is returned when no product matches an item code.
var ErrNotFound = fmt.Errorf("product %w", common.ErrNotFound)

// DefaultLowStockThreshold applies when a product carries a negative threshold.
const DefaultLowStockThreshold = 5

// TaxCategory groups products sharing a VAT percentage.
type TaxCategory struct {
	Name       string           `json:"name"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
}

// DepositCategory is a fixed refundable per-unit charge such as a bottle deposit.
type DepositCategory struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// Product is the catalog record the pricing engine reads. OnHand is only
// mutated by the inventory ledger.
type Product struct {
	Code              string           `json:"code"`
	Name              string           `json:"name"`
	Department        string           `json:"department"`
	SalePrice         decimal.Decimal  `json:"salePrice"`
	UnitCost          decimal.Decimal  `json:"unitCost"`
	OnHand            int              `json:"onHand"`
	LowStockThreshold int              `json:"lowStockThreshold"`
	VATApplicable     bool             `json:"vatApplicable"`
	VATPercentage     *decimal.Decimal `json:"vatPercentage,omitempty"`
	TaxCategory       *TaxCategory     `json:"taxCategory,omitempty"`
	Deposit           *DepositCategory `json:"deposit,omitempty"`
}

// DepositPerUnit returns the per-unit deposit, zero when the product has none.
func (p Product) DepositPerUnit() decimal.Decimal {
	if p.Deposit == nil {
		return decimal.Zero
	}
	return p.Deposit.Value
}

// Threshold returns the low-stock threshold, defaulting negative values.
func (p Product) Threshold() int {
	if p.LowStockThreshold < 0 {
		return DefaultLowStockThreshold
	}
	return p.LowStockThreshold
}

// Reader looks up products by item code.
type Reader interface {
	GetByCode(ctx context.Context, code string) (Product, error)
}

// BaseCode strips a suffixed override-price marker ("CODE_12.50" -> "CODE").
func BaseCode(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.Index(code, "_"); i > 0 {
		return code[:i]
	}
	return code
}

// Lookup resolves code, falling back to its base code when the exact code is unknown.
func Lookup(ctx context.Context, r Reader, code string) (Product, error) {
	if r == nil {
		return Product{}, ErrNotFound
	}
	p, err := r.GetByCode(ctx, code)
	if err == nil {
		return p, nil
	}
	base := BaseCode(code)
	if base == code || !errors.Is(err, common.ErrNotFound) {
		return Product{}, err
	}
	return r.GetByCode(ctx, base)
}
