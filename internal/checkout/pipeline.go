package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/cart"
	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/debt"
	"github.com/noah-isme/retail-pos/internal/events"
	"github.com/noah-isme/retail-pos/internal/inventory"
	"github.com/noah-isme/retail-pos/internal/money"
	"github.com/noah-isme/retail-pos/internal/obs"
	"github.com/noah-isme/retail-pos/internal/tax"
)

// DebtOpener opens the debt of a credit sale. Open must be idempotent per sale.
type DebtOpener interface {
	Open(ctx context.Context, req debt.OpenRequest) (debt.Debt, bool, error)
}

// StockCache drops cached product snapshots whose on-hand changed.
type StockCache interface {
	Forget(ctx context.Context, codes ...string) error
}

// Pipeline commits carts into sales.
type Pipeline struct {
	Catalog  catalog.Reader
	// Stock, when set, is told which products a committed sale decremented.
	Stock    StockCache
	Tax      tax.Resolver
	Sales    Repository
	Idem     IdempotencyStore
	Debts    DebtOpener
	Events   *events.Bus
	Validate *validator.Validate
	Logger   zerolog.Logger
	Now      func() time.Time
	// IdemWait bounds how long a duplicate waits for the first commit to finish.
	IdemWait     time.Duration
	PollInterval time.Duration
	// DefaultDebtTerm sets the due date of credit sales that carry none. Zero
	// leaves them without a due date.
	DefaultDebtTerm time.Duration

	numbers numberer
}

const maxNumberAttempts = 3

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Commit persists the cart lines as a sale. A duplicate of a commit that is
// running or finished within the idempotency window returns the first sale
// with Replayed set.
func (p *Pipeline) Commit(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	methodLabel := "unknown"
	defer func() {
		result := "ok"
		switch {
		case err != nil:
			result = resultLabel(err)
		case res.Replayed:
			result = "replayed"
		}
		obs.CountSale(methodLabel, result, obs.DurationMillis(time.Since(start)))
	}()

	if len(req.Lines) == 0 {
		return Result{}, ErrEmptyCart
	}
	if req.Method, err = ParseMethod(string(req.Method)); err != nil {
		return Result{}, err
	}
	methodLabel = string(req.Method)
	req.Operator = strings.TrimSpace(req.Operator)
	if err := common.ValidateStruct(p.Validate, req); err != nil {
		return Result{}, err
	}
	for _, l := range req.Lines {
		if strings.TrimSpace(l.Code) == "" {
			return Result{}, common.Validation("line code is required")
		}
		if l.Quantity == 0 {
			return Result{}, common.Validation("line %s has zero quantity", l.Code)
		}
	}
	if req.Method == MethodDebt && (req.Debtor == nil || strings.TrimSpace(req.Debtor.Name) == "") {
		return Result{}, common.Validation("credit sales need a debtor name")
	}
	if req.Method == MethodDebt && p.Debts == nil {
		return Result{}, common.Validation("credit sales are not enabled")
	}

	key := req.Key
	if key == "" {
		key = Fingerprint(req.Operator, req.Method, cartTotal(req.Lines), req.Lines)
	}
	token, replayID, err := p.claim(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if replayID != uuid.Nil {
		return p.replay(ctx, replayID, req)
	}

	persisted := false
	defer func() {
		if persisted {
			return
		}
		if relErr := p.Idem.Release(context.WithoutCancel(ctx), key, token); relErr != nil {
			p.Logger.Warn().Err(relErr).Msg("release idempotency key")
		}
	}()

	sale, reserve, err := p.build(ctx, req, key)
	if err != nil {
		return Result{}, err
	}
	sale, err = p.create(ctx, sale, reserve)
	if err != nil {
		p.logFailure(err, sale)
		return Result{}, err
	}
	persisted = true
	p.forgetStock(ctx, reserve)
	if err := p.Idem.Complete(ctx, key, token, sale.ID); err != nil {
		p.Logger.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("record idempotency key")
	}

	res = Result{Sale: sale}
	if sale.Method == MethodDebt {
		d, err := p.openDebt(ctx, sale, req.Debtor)
		if err != nil {
			p.Logger.Error().Err(err).Str("sale_id", sale.ID.String()).Msg("open debt for committed sale")
			return res, fmt.Errorf("sale %s committed but debt not opened: %w", sale.Number, err)
		}
		res.Debt = &d
	}

	p.Logger.Info().Str("sale_id", sale.ID.String()).Str("number", sale.Number).
		Str("method", string(sale.Method)).Str("total", money.Format(sale.Total)).
		Str("vat", money.Format(sale.VATTotal)).Int("lines", len(sale.Lines)).
		Str("operator", sale.Operator).Msg("sale_committed")
	if p.Events != nil {
		if _, err := p.Events.Emit(ctx, events.TopicSaleCommitted, sale.ID, sale); err != nil {
			p.Logger.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("sale event emit failed")
		}
	}
	return res, nil
}

// Get returns a committed sale.
func (p *Pipeline) Get(ctx context.Context, id uuid.UUID) (Sale, error) {
	return p.Sales.Get(ctx, id)
}

// GetByNumber returns a committed sale by its number.
func (p *Pipeline) GetByNumber(ctx context.Context, number string) (Sale, error) {
	return p.Sales.GetByNumber(ctx, number)
}

// List returns committed sales, newest first.
func (p *Pipeline) List(ctx context.Context, limit, offset int) ([]Sale, int, error) {
	return p.Sales.List(ctx, limit, offset)
}

// claim takes the idempotency key or, when another commit holds it, waits for
// that commit to record its sale.
func (p *Pipeline) claim(ctx context.Context, key string) (string, uuid.UUID, error) {
	if p.Idem == nil {
		return "", uuid.Nil, errors.New("checkout: idempotency store not configured")
	}
	wait := p.IdemWait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	poll := p.PollInterval
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	deadline := time.Now().Add(wait)
	for {
		token, ok, err := p.Idem.Claim(ctx, key)
		if err != nil {
			return "", uuid.Nil, common.Persistence("claim idempotency key", err)
		}
		if ok {
			return token, uuid.Nil, nil
		}
		rec, found, err := p.Idem.Lookup(ctx, key)
		if err != nil {
			return "", uuid.Nil, common.Persistence("read idempotency key", err)
		}
		if found && !rec.Pending {
			return "", rec.SaleID, nil
		}
		if time.Now().After(deadline) {
			return "", uuid.Nil, ErrInProgress
		}
		select {
		case <-ctx.Done():
			return "", uuid.Nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (p *Pipeline) replay(ctx context.Context, saleID uuid.UUID, req Request) (Result, error) {
	sale, err := p.Sales.Get(ctx, saleID)
	if err != nil {
		return Result{}, err
	}
	obs.CountReplay()
	p.Logger.Info().Str("sale_id", sale.ID.String()).Str("number", sale.Number).Msg("commit replayed")
	res := Result{Sale: sale, Replayed: true}
	if sale.Method == MethodDebt && p.Debts != nil {
		d, err := p.openDebt(ctx, sale, req.Debtor)
		if err != nil {
			return res, fmt.Errorf("sale %s committed but debt not opened: %w", sale.Number, err)
		}
		res.Debt = &d
	}
	return res, nil
}

// build prices every line from the catalog and settles the payment.
func (p *Pipeline) build(ctx context.Context, req Request, key string) (Sale, []inventory.Movement, error) {
	sale := Sale{
		ID:             uuid.New(),
		IdempotencyKey: key,
		CreatedAt:      p.now(),
		Operator:       req.Operator,
		Method:         req.Method,
		Reference:      strings.TrimSpace(req.Reference),
		Lines:          make([]SaleLine, 0, len(req.Lines)),
	}
	lines := append([]cart.Line(nil), req.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Code < lines[j].Code })

	var (
		reserve []inventory.Movement
		total   = money.Zero
		vat     = money.Zero
		deposit = money.Zero
	)
	for _, cl := range lines {
		line, reserveCode := p.price(ctx, cl)
		if reserveCode != "" {
			reserve = append(reserve, inventory.Movement{Code: reserveCode, Quantity: cl.Quantity})
		}
		total = total.Add(line.Total)
		vat = vat.Add(line.VAT)
		deposit = deposit.Add(line.Deposit)
		sale.Lines = append(sale.Lines, line)
	}
	sale.Total = money.Quantize(total)
	sale.VATTotal = money.Quantize(vat)
	sale.DepositTotal = money.Quantize(deposit)
	sale.SubTotal = money.Quantize(sale.Total.Sub(sale.VATTotal))

	if err := p.settle(&sale, req); err != nil {
		return Sale{}, nil, err
	}
	return sale, reserve, nil
}

// price builds the sale line from catalog data, falling back to the cart's
// cached values when the product cannot be resolved. The returned code is the
// product to reserve, empty when the product is unknown.
func (p *Pipeline) price(ctx context.Context, cl cart.Line) (SaleLine, string) {
	var (
		pct        decimal.Decimal
		applicable bool
		depositPer decimal.Decimal
		line       = SaleLine{
			Code:       cl.Code,
			Name:       cl.Name,
			Department: cl.Department,
			Quantity:   cl.Quantity,
			UnitPrice:  cl.UnitPrice,
		}
		reserveCode string
	)
	product, err := catalog.Lookup(ctx, p.Catalog, cl.Code)
	if err == nil {
		pct, applicable = p.Tax.Resolve(&product)
		depositPer = product.DepositPerUnit()
		line.Code = product.Code
		line.Name = product.Name
		line.Department = product.Department
		line.UnitCost = product.UnitCost
		reserveCode = product.Code
	} else {
		p.Logger.Warn().Err(err).Str("code", cl.Code).Msg("catalog lookup failed, using cart values")
		pct, applicable = cl.VATPercentage, cl.VATApplicable
		depositPer = cl.DepositPerUnit
		line.UnitCost = cl.UnitCost
		if !errors.Is(err, common.ErrNotFound) {
			reserveCode = catalog.BaseCode(cl.Code)
		}
	}

	gross := money.Mul(line.UnitPrice, line.Quantity)
	line.VATPercentage = money.Zero
	line.VAT = money.Zero
	if applicable && pct.IsPositive() {
		line.VATPercentage = pct
		line.VAT = money.ExtractVAT(gross, pct)
	}
	line.DepositPerUnit = depositPer
	line.Deposit = money.Quantize(money.Mul(depositPer, line.Quantity))
	line.Total = money.Quantize(gross.Add(line.Deposit))
	return line, reserveCode
}

func (p *Pipeline) settle(sale *Sale, req Request) error {
	switch sale.Method {
	case MethodCash:
		tendered := sale.Total
		if sale.Total.IsNegative() {
			tendered = money.Zero
		}
		if req.Tendered != nil {
			tendered = money.Quantize(*req.Tendered)
		}
		if tendered.LessThan(sale.Total) {
			return common.Validation("tendered %s is less than total %s", money.Format(tendered), money.Format(sale.Total))
		}
		sale.Tendered = tendered
		sale.Change = money.Quantize(tendered.Sub(sale.Total))
	case MethodCard, MethodEBT:
		sale.Tendered = sale.Total
		sale.Change = money.Zero
	case MethodDebt:
		if !sale.Total.IsPositive() {
			return common.Validation("credit sales need a positive total")
		}
		paid := money.Zero
		if req.Tendered != nil && req.Tendered.IsPositive() {
			paid = money.Quantize(*req.Tendered)
		}
		if paid.GreaterThan(sale.Total) {
			paid = sale.Total
		}
		sale.Tendered = paid
		sale.Change = money.Zero
		sale.PaidAmount = &paid
		sale.DebtorName = strings.TrimSpace(req.Debtor.Name)
	}
	return nil
}

func (p *Pipeline) create(ctx context.Context, sale Sale, reserve []inventory.Movement) (Sale, error) {
	var err error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		sale.Number = p.numbers.next(p.now())
		var saved Sale
		saved, err = p.Sales.Create(ctx, sale, reserve)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrNumberTaken) {
			return Sale{}, err
		}
	}
	return Sale{}, err
}

func (p *Pipeline) forgetStock(ctx context.Context, reserve []inventory.Movement) {
	if p.Stock == nil || len(reserve) == 0 {
		return
	}
	codes := make([]string, 0, len(reserve))
	for _, m := range reserve {
		codes = append(codes, m.Code)
	}
	if err := p.Stock.Forget(ctx, codes...); err != nil {
		p.Logger.Warn().Err(err).Strs("codes", codes).Msg("drop cached stock")
	}
}

func (p *Pipeline) openDebt(ctx context.Context, sale Sale, info *DebtorInfo) (debt.Debt, error) {
	debtor := debt.Debtor{Name: sale.DebtorName}
	if info != nil {
		debtor.Phone = info.Phone
		debtor.DueDate = info.DueDate
	}
	if debtor.DueDate == nil && p.DefaultDebtTerm > 0 {
		due := sale.CreatedAt.Add(p.DefaultDebtTerm)
		debtor.DueDate = &due
	}
	paid := money.Zero
	if sale.PaidAmount != nil {
		paid = *sale.PaidAmount
	}
	d, _, err := p.Debts.Open(ctx, debt.OpenRequest{
		SaleID:      sale.ID,
		SaleNumber:  sale.Number,
		Total:       sale.Total,
		InitialPaid: paid,
		Debtor:      debtor,
		CreatedBy:   sale.Operator,
	})
	return d, err
}

func (p *Pipeline) logFailure(err error, sale Sale) {
	var stockErr *common.StockError
	switch {
	case errors.As(err, &stockErr):
		p.Logger.Info().Str("code", stockErr.Code).Int("available", stockErr.Available).
			Int("requested", stockErr.Requested).Msg("commit rejected: insufficient stock")
	case errors.Is(err, common.ErrPersistence):
		p.Logger.Error().Err(err).Str("sale_id", sale.ID.String()).Msg("commit failed")
	default:
		p.Logger.Warn().Err(err).Str("sale_id", sale.ID.String()).Msg("commit rejected")
	}
}

func cartTotal(lines []cart.Line) decimal.Decimal {
	total := money.Zero
	for _, l := range lines {
		total = total.Add(l.Total)
	}
	return money.Quantize(total)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, common.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, common.ErrValidation):
		return "invalid"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	case errors.Is(err, common.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
