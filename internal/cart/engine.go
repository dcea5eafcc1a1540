package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/money"
	"github.com/noah-isme/retail-pos/internal/tax"
)

var (
	// ErrNoItem is returned when an item code is unknown to the catalog.
	ErrNoItem = fmt.Errorf("item %w", common.ErrNotFound)
	// ErrNotInCart is returned when a mutation targets a line the cart does not hold.
	ErrNotInCart = fmt.Errorf("item not in cart: %w", common.ErrNotFound)
	// ErrInvalidQuantity is returned for negative add quantities.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must not be negative", common.ErrValidation)
	// ErrInvalidPrice is returned for a non-positive override price.
	ErrInvalidPrice = fmt.Errorf("%w: override price must be positive", common.ErrValidation)
	// ErrPriceRequired is returned when a variable-price key is added without a
	// price and the cart holds no such line.
	ErrPriceRequired = fmt.Errorf("%w: variable-price item needs a price", common.ErrValidation)
)

// Outcome describes what a mutation did.
type Outcome string

const (
	// Applied means the cart changed.
	Applied Outcome = "ok"
	// Noop means the request was valid but had nothing to change.
	Noop Outcome = "noop"
	// Removed means the mutation dropped the line.
	Removed Outcome = "removed"
)

// Engine prices cart lines against the catalog.
type Engine struct {
	Catalog catalog.Reader
	Tax     tax.Resolver
}

// Add puts qty units of code into the cart. An override price marks the line
// as variable-priced and keys it by code and price. A variable-price key
// without a price adds to that existing line. Merging recomputes the line for
// the new total quantity from scratch.
func (e *Engine) Add(ctx context.Context, c *Cart, code string, qty int, override *decimal.Decimal) (Outcome, error) {
	if c == nil {
		return Noop, errors.New("cart not loaded")
	}
	if qty == 0 {
		return Noop, nil
	}
	if qty < 0 {
		return Noop, ErrInvalidQuantity
	}
	if override != nil && !override.IsPositive() {
		return Noop, ErrInvalidPrice
	}
	p, err := catalog.Lookup(ctx, e.Catalog, code)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Noop, fmt.Errorf("%s: %w", code, ErrNoItem)
		}
		return Noop, err
	}

	key := p.Code
	switch {
	case override != nil:
		key = p.Code + "_" + money.Format(*override)
	case p.Code != code:
		if _, ok := c.Lines[code]; !ok {
			return Noop, fmt.Errorf("%s: %w", code, ErrPriceRequired)
		}
		key = code
	}
	existing, inCart := c.Lines[key]
	current := 0
	if inCart {
		current = existing.Quantity
	}
	if requested := c.quantityOf(p.Code) + qty; requested > p.OnHand {
		return Noop, &common.StockError{Code: p.Code, Available: p.OnHand, Requested: requested}
	}

	line := Line{Code: key, Name: p.Name, Department: p.Department}
	switch {
	case override != nil:
		line.UnitPrice = money.Quantize(*override)
		line.VariablePrice = true
	case inCart && existing.VariablePrice:
		line.UnitPrice = existing.UnitPrice
		line.VariablePrice = true
	default:
		line.UnitPrice = money.Quantize(p.SalePrice)
	}
	line.Quantity = current + qty
	e.applyProduct(&line, &p)

	c.ensure()
	c.Lines[key] = &line
	c.markStock(p.Code, p.OnHand, p.Threshold())
	return Applied, nil
}

// Decrement lowers the line quantity by amount, removing it at zero or below.
func (e *Engine) Decrement(ctx context.Context, c *Cart, code string, amount int) (Outcome, error) {
	if amount <= 0 {
		return Noop, nil
	}
	existing, ok := c.Line(code)
	if !ok {
		return Noop, fmt.Errorf("%s: %w", code, ErrNotInCart)
	}
	return e.setQuantity(ctx, c, existing, existing.Quantity-amount)
}

// SetQuantity sets the line quantity to n. Increases are validated against
// stock like Add; n <= 0 removes the line.
func (e *Engine) SetQuantity(ctx context.Context, c *Cart, code string, n int) (Outcome, error) {
	existing, ok := c.Line(code)
	if !ok {
		return Noop, fmt.Errorf("%s: %w", code, ErrNotInCart)
	}
	return e.setQuantity(ctx, c, existing, n)
}

func (e *Engine) setQuantity(ctx context.Context, c *Cart, existing Line, n int) (Outcome, error) {
	if n <= 0 {
		delete(c.Lines, existing.Code)
		e.refreshStock(ctx, c, catalog.BaseCode(existing.Code))
		return Removed, nil
	}
	p, err := catalog.Lookup(ctx, e.Catalog, existing.Code)
	found := err == nil
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return Noop, err
	}
	if n > existing.Quantity {
		if !found {
			return Noop, fmt.Errorf("%s: %w", existing.Code, ErrNoItem)
		}
		if requested := c.quantityOf(p.Code) - existing.Quantity + n; requested > p.OnHand {
			return Noop, &common.StockError{Code: p.Code, Available: p.OnHand, Requested: requested}
		}
	}

	base := catalog.BaseCode(existing.Code)
	onHand, threshold := existing.StockLeft+c.quantityOf(base), catalog.DefaultLowStockThreshold
	line := existing
	line.Quantity = n
	if found {
		e.applyProduct(&line, &p)
		base, onHand, threshold = p.Code, p.OnHand, p.Threshold()
	} else {
		line.reprice()
	}
	line.markStock(onHand, c.quantityOf(base)-existing.Quantity+n, threshold)
	if line.equal(existing) {
		return Noop, nil
	}
	c.Lines[existing.Code] = &line
	c.markStock(base, onHand, threshold)
	return Applied, nil
}

// Remove drops the line for code.
func (e *Engine) Remove(ctx context.Context, c *Cart, code string) (Outcome, error) {
	if _, ok := c.Line(code); !ok {
		return Noop, fmt.Errorf("%s: %w", code, ErrNotInCart)
	}
	delete(c.Lines, code)
	e.refreshStock(ctx, c, catalog.BaseCode(code))
	return Removed, nil
}

// Clear empties the cart.
func (e *Engine) Clear(c *Cart) Outcome {
	if c.Len() == 0 {
		return Noop
	}
	c.Lines = map[string]*Line{}
	return Applied
}

// Returns negates every line in place to stage a refund.
func (e *Engine) Returns(c *Cart) Outcome {
	if c.Len() == 0 {
		return Noop
	}
	for _, l := range c.Lines {
		l.negate()
	}
	return Applied
}

// applyProduct re-resolves VAT, deposit and cost from p and reprices. Stock
// flags are set by the caller once the cart total for the product is known.
func (e *Engine) applyProduct(l *Line, p *catalog.Product) {
	l.Name = p.Name
	l.Department = p.Department
	l.VATPercentage, l.VATApplicable = e.Tax.Resolve(p)
	l.DepositPerUnit = p.DepositPerUnit()
	l.UnitCost = p.UnitCost
	l.reprice()
}

// refreshStock re-marks the lines still selling base after one was dropped.
// A failed lookup leaves their flags as they were.
func (e *Engine) refreshStock(ctx context.Context, c *Cart, base string) {
	if !c.holds(base) {
		return
	}
	p, err := catalog.Lookup(ctx, e.Catalog, base)
	if err != nil {
		return
	}
	c.markStock(p.Code, p.OnHand, p.Threshold())
}
