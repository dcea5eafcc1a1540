package debt

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/events"
	"github.com/noah-isme/retail-pos/internal/lock"
	"github.com/noah-isme/retail-pos/internal/money"
	"github.com/noah-isme/retail-pos/internal/obs"
)

// OpenRequest describes the credit sale a debt is opened for.
type OpenRequest struct {
	SaleID      uuid.UUID
	SaleNumber  string
	Total       decimal.Decimal
	InitialPaid decimal.Decimal
	Debtor      Debtor
	CreatedBy   string
}

// PaymentInput is a payment against an existing debt.
type PaymentInput struct {
	Amount decimal.Decimal
	Method Method
	Note   string
	Actor  string
}

// PaymentResult reports the debt after a payment.
type PaymentResult struct {
	Debt    Debt            `json:"debt"`
	Payment Payment         `json:"payment"`
	Balance decimal.Decimal `json:"balance"`
	Status  Status          `json:"status"`
}

// Ledger opens debts and applies payments.
type Ledger struct {
	Store   Store
	Locker  *lock.Locker
	LockTTL time.Duration
	Events  *events.Bus
	Now     func() time.Time
	Logger  zerolog.Logger
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// Open returns the debt for the sale, creating it with the initial payment
// when it does not exist yet. Concurrent calls for the same sale yield one
// debt; the boolean reports whether this call created it.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (Debt, bool, error) {
	if req.SaleID == uuid.Nil {
		return Debt{}, false, common.Validation("sale id is required")
	}
	total := money.Quantize(req.Total)
	if total.IsNegative() {
		return Debt{}, false, common.Validation("debt total must not be negative")
	}

	var (
		d       Debt
		created bool
	)
	open := func(ctx context.Context) error {
		existing, err := l.Store.BySale(ctx, req.SaleID)
		if err == nil {
			d = existing
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		d, created, err = l.create(ctx, req, total)
		return err
	}

	var err error
	if l.Locker != nil {
		err = l.Locker.WithLock(ctx, l.Locker.Key("debt", "open", req.SaleID.String()), l.LockTTL, open)
	} else {
		err = open(ctx)
	}
	if err != nil {
		return Debt{}, false, err
	}
	if created {
		l.Logger.Info().Str("debt_id", d.ID.String()).Str("sale_number", d.SaleNumber).
			Str("total", money.Format(d.Total)).Str("paid", money.Format(d.Paid)).
			Str("status", string(d.Status)).Msg("debt_opened")
		obs.CountDebtTransition(string(d.Status))
		l.emit(ctx, events.TopicDebtOpened, d.ID, d)
	}
	return d, created, nil
}

func (l *Ledger) create(ctx context.Context, req OpenRequest, total decimal.Decimal) (Debt, bool, error) {
	now := l.now()
	paid := money.Quantize(req.InitialPaid)
	if paid.IsNegative() {
		paid = money.Zero
	}
	if paid.GreaterThan(total) {
		paid = total
	}
	d := Debt{
		ID:         uuid.New(),
		SaleID:     req.SaleID,
		SaleNumber: req.SaleNumber,
		Total:      total,
		Paid:       paid,
		DueDate:    req.Debtor.DueDate,
		DebtorName: strings.TrimSpace(req.Debtor.Name),
		Phone:      strings.TrimSpace(req.Debtor.Phone),
		CreatedBy:  req.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	d.Status = StatusFor(d.Total, d.Paid, d.DueDate, now)

	var initial *Payment
	if paid.IsPositive() {
		initial = &Payment{
			ID:        uuid.New(),
			DebtID:    d.ID,
			Amount:    paid,
			Method:    MethodCash,
			Note:      InitialPaymentNote,
			Actor:     req.CreatedBy,
			CreatedAt: now,
		}
	}
	saved, err := l.Store.Create(ctx, d, initial)
	if errors.Is(err, ErrDuplicate) {
		existing, getErr := l.Store.BySale(ctx, req.SaleID)
		return existing, false, getErr
	}
	if err != nil {
		return Debt{}, false, err
	}
	return saved, true, nil
}

// ApplyPayment records a payment and returns the new balance and status.
func (l *Ledger) ApplyPayment(ctx context.Context, debtID uuid.UUID, in PaymentInput) (PaymentResult, error) {
	if !in.Amount.IsPositive() || !in.Amount.Equal(money.Quantize(in.Amount)) {
		obs.CountDebtPayment("invalid")
		return PaymentResult{}, ErrInvalidAmount
	}
	method, err := ParseMethod(string(in.Method))
	if err != nil {
		obs.CountDebtPayment("invalid")
		return PaymentResult{}, err
	}
	now := l.now()
	pay := Payment{
		ID:        uuid.New(),
		DebtID:    debtID,
		Amount:    in.Amount,
		Method:    method,
		Note:      strings.TrimSpace(in.Note),
		Actor:     strings.TrimSpace(in.Actor),
		CreatedAt: now,
	}
	d, prev, err := l.Store.AddPayment(ctx, pay, now)
	if err != nil {
		switch {
		case errors.Is(err, ErrOverpayment):
			obs.CountDebtPayment("overpayment")
		case errors.Is(err, ErrNotFound):
			obs.CountDebtPayment("not_found")
		default:
			obs.CountDebtPayment("error")
			l.Logger.Error().Err(err).Str("debt_id", debtID.String()).Msg("debt payment failed")
		}
		return PaymentResult{}, err
	}
	obs.CountDebtPayment("ok")
	l.Logger.Info().Str("debt_id", d.ID.String()).Str("amount", money.Format(pay.Amount)).
		Str("method", string(pay.Method)).Str("balance", money.Format(d.Balance())).
		Str("status", string(d.Status)).Msg("debt_payment_applied")

	l.emit(ctx, events.TopicDebtPaymentApplied, d.ID, pay)
	if d.Status != prev {
		obs.CountDebtTransition(string(d.Status))
		l.emit(ctx, events.TopicDebtStatusChanged, d.ID, map[string]Status{"from": prev, "to": d.Status})
	}
	return PaymentResult{Debt: d, Payment: pay, Balance: d.Balance(), Status: d.Status}, nil
}

// Get returns a debt by id.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (Debt, error) {
	return l.Store.Get(ctx, id)
}

// BySale returns the debt opened for a sale.
func (l *Ledger) BySale(ctx context.Context, saleID uuid.UUID) (Debt, error) {
	return l.Store.BySale(ctx, saleID)
}

// Payments lists the payments of a debt, oldest first.
func (l *Ledger) Payments(ctx context.Context, id uuid.UUID) ([]Payment, error) {
	return l.Store.Payments(ctx, id)
}

// RefreshStatuses re-derives the status of every unsettled debt, moving past
// due ones to OVERDUE. It returns how many debts changed.
func (l *Ledger) RefreshStatuses(ctx context.Context) (int, error) {
	debts, err := l.Store.Unsettled(ctx)
	if err != nil {
		return 0, err
	}
	now := l.now()
	changed := 0
	for _, d := range debts {
		next := StatusFor(d.Total, d.Paid, d.DueDate, now)
		if next == d.Status {
			continue
		}
		ok, err := l.Store.SetStatus(ctx, d.ID, d.Status, next, now)
		if err != nil {
			return changed, err
		}
		if !ok {
			continue
		}
		changed++
		obs.CountDebtTransition(string(next))
		l.emit(ctx, events.TopicDebtStatusChanged, d.ID, map[string]Status{"from": d.Status, "to": next})
	}
	if changed > 0 {
		l.Logger.Info().Int("changed", changed).Msg("debt statuses refreshed")
	}
	return changed, nil
}

func (l *Ledger) emit(ctx context.Context, topic string, id uuid.UUID, payload any) {
	if l.Events == nil {
		return
	}
	if _, err := l.Events.Emit(ctx, topic, id, payload); err != nil {
		l.Logger.Warn().Err(err).Str("topic", topic).Str("debt_id", id.String()).Msg("debt event emit failed")
	}
}
