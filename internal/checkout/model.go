// Package checkout turns a finalized cart into an immutable sale: it
// re-resolves tax and cost, reserves stock and persists the sale as one unit,
// and collapses duplicate submissions onto the first result.
package checkout

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/cart"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/debt"
)

// Method is how a sale was settled.
type Method string

const (
	MethodCash Method = "CASH"
	MethodCard Method = "CARD"
	MethodEBT  Method = "EBT"
	// MethodDebt is a sale on store credit.
	MethodDebt Method = "DEBT"
)

// ParseMethod normalises a payment method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(strings.TrimSpace(s))); m {
	case MethodCash, MethodCard, MethodEBT, MethodDebt:
		return m, nil
	case "CREDIT":
		return MethodDebt, nil
	default:
		return "", common.Validation("unsupported payment method %q", s)
	}
}

var (
	// ErrNotFound is returned for an unknown sale.
	ErrNotFound = fmt.Errorf("sale %w", common.ErrNotFound)
	// ErrEmptyCart is returned when a commit carries no lines.
	ErrEmptyCart = fmt.Errorf("%w: cart is empty", common.ErrValidation)
	// ErrNumberTaken is returned by repositories when the sale number collides.
	ErrNumberTaken = fmt.Errorf("sale number taken: %w", common.ErrConflict)
	// ErrInProgress is returned when an identical commit is still running.
	ErrInProgress = fmt.Errorf("identical commit in progress: %w", common.ErrConflict)
)

// Sale is a committed transaction. It is never modified after Create.
type Sale struct {
	ID             uuid.UUID        `json:"id"`
	Number         string           `json:"number"`
	IdempotencyKey string           `json:"-"`
	CreatedAt      time.Time        `json:"createdAt"`
	Operator       string           `json:"operator"`
	Method         Method           `json:"method"`
	SubTotal       decimal.Decimal  `json:"subTotal"`
	VATTotal       decimal.Decimal  `json:"vatTotal"`
	DepositTotal   decimal.Decimal  `json:"depositTotal"`
	Total          decimal.Decimal  `json:"total"`
	Tendered       decimal.Decimal  `json:"tendered"`
	Change         decimal.Decimal  `json:"change"`
	PaidAmount     *decimal.Decimal `json:"paidAmount,omitempty"`
	Reference      string           `json:"reference,omitempty"`
	DebtorName     string           `json:"debtorName,omitempty"`
	Lines          []SaleLine       `json:"lines"`
}

// SaleLine is one immutable sold row.
type SaleLine struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Department     string          `json:"department,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	UnitCost       decimal.Decimal `json:"unitCost"`
	VATPercentage  decimal.Decimal `json:"vatPercentage"`
	VAT            decimal.Decimal `json:"vat"`
	DepositPerUnit decimal.Decimal `json:"depositPerUnit"`
	Deposit        decimal.Decimal `json:"deposit"`
	Total          decimal.Decimal `json:"total"`
}

// DebtorInfo identifies the customer of a credit sale.
type DebtorInfo struct {
	Name    string     `json:"name" validate:"required,max=120"`
	Phone   string     `json:"phone" validate:"max=40"`
	DueDate *time.Time `json:"dueDate"`
}

// Request is a commit of a finalized cart.
type Request struct {
	Lines    []cart.Line      `json:"lines" validate:"required,min=1,dive"`
	Operator string           `json:"operator" validate:"required,max=120"`
	Method   Method           `json:"method" validate:"required,oneof=CASH CARD EBT DEBT"`
	Tendered *decimal.Decimal `json:"tendered"`
	// Reference is the card slip or voucher reference for non-cash methods.
	Reference string      `json:"reference" validate:"max=120"`
	Debtor    *DebtorInfo `json:"debtor" validate:"required_if=Method DEBT,omitempty"`
	// Key overrides the derived fingerprint when the client supplies its own
	// idempotency key.
	Key string `json:"-"`
}

// Result is the outcome of a commit.
type Result struct {
	Sale     Sale       `json:"sale"`
	Debt     *debt.Debt `json:"debt,omitempty"`
	Replayed bool       `json:"replayed"`
}

// numberer hands out timestamp sale numbers (YYYYMMDDhhmmssffffff) that are
// strictly increasing within the process.
type numberer struct {
	mu   sync.Mutex
	last time.Time
}

func (n *numberer) next(now time.Time) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(n.last) {
		now = n.last.Add(time.Microsecond)
	}
	n.last = now
	return strings.Replace(now.Format("20060102150405.000000"), ".", "", 1)
}
