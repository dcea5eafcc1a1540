package cart

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/money"
)

// Line is one pending sale row for an item code. Monetary aggregates cover the
// whole line and are always a pure function of the pricing inputs.
type Line struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Department     string          `json:"department,omitempty"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	VariablePrice  bool            `json:"variablePrice"`
	Quantity       int             `json:"quantity"`
	VATApplicable  bool            `json:"vatApplicable"`
	VATPercentage  decimal.Decimal `json:"vatPercentage"`
	VAT            decimal.Decimal `json:"vat"`
	DepositPerUnit decimal.Decimal `json:"depositPerUnit"`
	Deposit        decimal.Decimal `json:"deposit"`
	UnitCost       decimal.Decimal `json:"unitCost"`
	Profit         decimal.Decimal `json:"profit"`
	Total          decimal.Decimal `json:"total"`
	StockLeft      int             `json:"stockLeft"`
	LowStock       bool            `json:"lowStock"`
}

// Gross is unit price times quantity, the VAT-inclusive amount excluding deposit.
func (l Line) Gross() decimal.Decimal {
	return money.Quantize(money.Mul(l.UnitPrice, l.Quantity))
}

// reprice recomputes every aggregate for the line's current quantity. Deposit
// is not taxed.
func (l *Line) reprice() {
	gross := money.Mul(l.UnitPrice, l.Quantity)
	l.Deposit = money.Quantize(money.Mul(l.DepositPerUnit, l.Quantity))
	l.Total = money.Quantize(gross.Add(l.Deposit))
	if l.VATApplicable {
		l.VAT = money.ExtractVAT(gross, l.VATPercentage)
	} else {
		l.VAT = money.Zero
	}
	cost := money.Mul(l.UnitCost, l.Quantity)
	l.Profit = money.Quantize(gross.Sub(cost.Add(l.VAT)))
}

// markStock refreshes the stock snapshot. inCart is the quantity of the
// product across every line of the cart.
func (l *Line) markStock(onHand, inCart, threshold int) {
	remaining := onHand - inCart
	l.LowStock = remaining <= threshold
	if remaining < 0 {
		remaining = 0
	}
	l.StockLeft = remaining
}

// negate flips quantity and every monetary aggregate; unit figures stay positive.
func (l *Line) negate() {
	l.Quantity = -l.Quantity
	l.VAT = l.VAT.Neg()
	l.Deposit = l.Deposit.Neg()
	l.Profit = l.Profit.Neg()
	l.Total = l.Total.Neg()
}

func (l Line) equal(o Line) bool {
	return l.Code == o.Code &&
		l.Name == o.Name &&
		l.Department == o.Department &&
		l.UnitPrice.Equal(o.UnitPrice) &&
		l.VariablePrice == o.VariablePrice &&
		l.Quantity == o.Quantity &&
		l.VATApplicable == o.VATApplicable &&
		l.VATPercentage.Equal(o.VATPercentage) &&
		l.VAT.Equal(o.VAT) &&
		l.DepositPerUnit.Equal(o.DepositPerUnit) &&
		l.Deposit.Equal(o.Deposit) &&
		l.UnitCost.Equal(o.UnitCost) &&
		l.Profit.Equal(o.Profit) &&
		l.Total.Equal(o.Total) &&
		l.StockLeft == o.StockLeft &&
		l.LowStock == o.LowStock
}
