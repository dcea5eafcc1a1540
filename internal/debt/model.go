// Package debt keeps store-credit balances: one debt per credit sale, an
// append-only payment history and a status derived from paid, total and due date.
package debt

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/money"
)

// Status is the debt state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
)

// Method is how a payment was tendered.
type Method string

const (
	MethodCash Method = "CASH"
	MethodCard Method = "CARD"
	MethodEBT  Method = "EBT"
)

// InitialPaymentNote marks the payment recorded when the credit sale is saved.
const InitialPaymentNote = "Initial payment recorded on transaction save"

var (
	// ErrNotFound is returned for an unknown debt id or sale.
	ErrNotFound = fmt.Errorf("debt %w", common.ErrNotFound)
	// ErrOverpayment is returned when a payment would push paid above total.
	ErrOverpayment = fmt.Errorf("%w: payment exceeds outstanding balance", common.ErrValidation)
	// ErrInvalidAmount is returned for non-positive or over-precise amounts.
	ErrInvalidAmount = fmt.Errorf("%w: payment amount must be positive with at most two decimals", common.ErrValidation)
	// ErrInvalidMethod is returned for an unsupported payment method.
	ErrInvalidMethod = fmt.Errorf("%w: unsupported payment method", common.ErrValidation)
	// ErrDuplicate is returned by stores when the sale already has a debt.
	ErrDuplicate = fmt.Errorf("debt already exists for sale: %w", common.ErrConflict)
)

// ParseMethod normalises a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodCash, MethodCard, MethodEBT:
		return m, nil
	case "":
		return MethodCash, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrInvalidMethod)
	}
}

// Debt is the credit balance opened for one sale.
type Debt struct {
	ID         uuid.UUID       `json:"id"`
	SaleID     uuid.UUID       `json:"saleId"`
	SaleNumber string          `json:"saleNumber"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	Status     Status          `json:"status"`
	DueDate    *time.Time      `json:"dueDate,omitempty"`
	DebtorName string          `json:"debtorName"`
	Phone      string          `json:"phone,omitempty"`
	CreatedBy  string          `json:"createdBy"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Balance is what remains to be paid.
func (d Debt) Balance() decimal.Decimal {
	return money.Quantize(d.Total.Sub(d.Paid))
}

// Payment is an append-only record against a debt.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	DebtID    uuid.UUID       `json:"debtId"`
	Amount    decimal.Decimal `json:"amount"`
	Method    Method          `json:"method"`
	Note      string          `json:"note,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Debtor identifies who owes the balance.
type Debtor struct {
	Name    string     `json:"name"`
	Phone   string     `json:"phone,omitempty"`
	DueDate *time.Time `json:"dueDate,omitempty"`
}

// StatusFor derives the status from the balance and due date.
func StatusFor(total, paid decimal.Decimal, due *time.Time, now time.Time) Status {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case due != nil && now.After(*due):
		return StatusOverdue
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}
