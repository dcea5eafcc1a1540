package cart

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/money"
	"github.com/noah-isme/retail-pos/internal/tax"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pct(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

func newEngine(products ...catalog.Product) (*Engine, *catalog.Memory) {
	mem := catalog.NewMemory(products...)
	return &Engine{Catalog: mem, Tax: tax.Resolver{}}, mem
}

func radio() catalog.Product {
	return catalog.Product{
		Code:              "RADIO",
		Name:              "Pocket radio",
		Department:        "electronics",
		SalePrice:         dec("500"),
		UnitCost:          dec("300"),
		OnHand:            10,
		LowStockThreshold: 2,
		VATApplicable:     true,
		VATPercentage:     pct("18"),
	}
}

func cola() catalog.Product {
	return catalog.Product{
		Code:              "COLA",
		Name:              "Cola 1L",
		SalePrice:         dec("2.50"),
		UnitCost:          dec("1.10"),
		OnHand:            40,
		LowStockThreshold: 5,
		VATApplicable:     true,
		TaxCategory:       &catalog.TaxCategory{Name: "reduced", Percentage: pct("7")},
		Deposit:           &catalog.DepositCategory{Name: "PET", Value: dec("0.25")},
	}
}

// requireLineConsistent checks that every aggregate is the pure function of
// unit price, quantity and VAT percentage.
func requireLineConsistent(t *testing.T, l Line) {
	t.Helper()
	gross := money.Mul(l.UnitPrice, l.Quantity)
	deposit := money.Quantize(money.Mul(l.DepositPerUnit, l.Quantity))
	vat := money.Zero
	if l.VATApplicable {
		vat = money.ExtractVAT(gross, l.VATPercentage)
	}
	profit := money.Quantize(gross.Sub(money.Mul(l.UnitCost, l.Quantity).Add(vat)))
	require.True(t, l.Total.Equal(money.Quantize(gross.Add(deposit))), "total %s", l.Total)
	require.True(t, l.Deposit.Equal(deposit), "deposit %s", l.Deposit)
	require.True(t, l.VAT.Equal(vat), "vat %s", l.VAT)
	require.True(t, l.Profit.Equal(profit), "profit %s", l.Profit)
}

func TestAddPricesLineFromCatalog(t *testing.T) {
	e, _ := newEngine(radio())
	c := New("till-1")

	out, err := e.Add(context.Background(), c, "RADIO", 3, nil)
	require.NoError(t, err)
	require.Equal(t, Applied, out)

	l, ok := c.Line("RADIO")
	require.True(t, ok)
	require.Equal(t, "1500.00", money.Format(l.Total))
	require.Equal(t, "228.81", money.Format(l.VAT))
	require.Equal(t, "371.19", money.Format(l.Profit))
	require.Equal(t, 7, l.StockLeft)
	require.False(t, l.LowStock)
	requireLineConsistent(t, l)
}

func TestAddRejectsQuantityAboveStock(t *testing.T) {
	p := radio()
	p.OnHand = 3
	e, _ := newEngine(p)
	c := New("till-1")

	_, err := e.Add(context.Background(), c, "RADIO", 5, nil)
	require.True(t, errors.Is(err, common.ErrInsufficientStock))
	var stockErr *common.StockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, 3, stockErr.Available)
	require.Equal(t, 5, stockErr.Requested)
	require.Equal(t, 0, c.Len())
}

func TestAddMergesAndRederives(t *testing.T) {
	e, _ := newEngine(cola())
	c := New("till-1")
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := e.Add(ctx, c, "COLA", 1, nil)
		require.NoError(t, err)
	}
	merged, _ := c.Line("COLA")

	fresh := New("till-2")
	_, err := e.Add(ctx, fresh, "COLA", 7, nil)
	require.NoError(t, err)
	direct, _ := fresh.Line("COLA")

	require.True(t, merged.equal(direct))
	require.Equal(t, "19.25", money.Format(merged.Total))
	require.Equal(t, "1.75", money.Format(merged.Deposit))
	requireLineConsistent(t, merged)
}

func TestAddUnknownCode(t *testing.T) {
	e, _ := newEngine()
	_, err := e.Add(context.Background(), New("s"), "NOPE", 1, nil)
	require.True(t, errors.Is(err, ErrNoItem))
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestAddZeroIsNoopAndNegativeRejected(t *testing.T) {
	e, _ := newEngine(radio())
	c := New("s")
	out, err := e.Add(context.Background(), c, "RADIO", 0, nil)
	require.NoError(t, err)
	require.Equal(t, Noop, out)

	_, err = e.Add(context.Background(), c, "RADIO", -1, nil)
	require.True(t, errors.Is(err, common.ErrValidation))
	require.Equal(t, 0, c.Len())
}

func TestVariablePriceLinesAreKeyedByPrice(t *testing.T) {
	e, _ := newEngine(radio())
	c := New("s")
	ctx := context.Background()
	price := dec("450")

	_, err := e.Add(ctx, c, "RADIO", 2, &price)
	require.NoError(t, err)
	_, err = e.Add(ctx, c, "RADIO", 1, nil)
	require.NoError(t, err)

	require.Equal(t, 2, c.Len())
	l, ok := c.Line("RADIO_450.00")
	require.True(t, ok)
	require.True(t, l.VariablePrice)
	require.Equal(t, "900.00", money.Format(l.Total))
	requireLineConsistent(t, l)

	// Stock is shared across every line of the same product.
	_, err = e.Add(ctx, c, "RADIO", 8, &price)
	require.True(t, errors.Is(err, common.ErrInsufficientStock))

	zero := dec("0")
	_, err = e.Add(ctx, c, "RADIO", 1, &zero)
	require.True(t, errors.Is(err, ErrInvalidPrice))
}

func TestSetQuantityIsIdempotent(t *testing.T) {
	e, _ := newEngine(cola())
	c := New("s")
	ctx := context.Background()
	_, err := e.Add(ctx, c, "COLA", 2, nil)
	require.NoError(t, err)

	out, err := e.SetQuantity(ctx, c, "COLA", 5)
	require.NoError(t, err)
	require.Equal(t, Applied, out)
	first, _ := c.Line("COLA")

	out, err = e.SetQuantity(ctx, c, "COLA", 5)
	require.NoError(t, err)
	require.Equal(t, Noop, out)
	second, _ := c.Line("COLA")
	require.True(t, first.equal(second))
	requireLineConsistent(t, second)

	_, err = e.SetQuantity(ctx, c, "COLA", 41)
	require.True(t, errors.Is(err, common.ErrInsufficientStock))

	out, err = e.SetQuantity(ctx, c, "COLA", 0)
	require.NoError(t, err)
	require.Equal(t, Removed, out)
	require.Equal(t, 0, c.Len())
}

func TestDecrementNeverDrifts(t *testing.T) {
	e, _ := newEngine(cola(), radio())
	c := New("s")
	ctx := context.Background()
	_, err := e.Add(ctx, c, "COLA", 30, nil)
	require.NoError(t, err)

	for q := 29; q > 0; q-- {
		out, err := e.Decrement(ctx, c, "COLA", 1)
		require.NoError(t, err)
		require.Equal(t, Applied, out)
		l, _ := c.Line("COLA")
		require.Equal(t, q, l.Quantity)
		requireLineConsistent(t, l)
	}
	out, err := e.Decrement(ctx, c, "COLA", 1)
	require.NoError(t, err)
	require.Equal(t, Removed, out)

	_, err = e.Decrement(ctx, c, "COLA", 1)
	require.True(t, errors.Is(err, ErrNotInCart))
}

func TestLowStockFlag(t *testing.T) {
	p := radio()
	p.OnHand = 4
	p.LowStockThreshold = 2
	e, _ := newEngine(p)
	c := New("s")

	_, err := e.Add(context.Background(), c, "RADIO", 1, nil)
	require.NoError(t, err)
	l, _ := c.Line("RADIO")
	require.False(t, l.LowStock)

	_, err = e.Add(context.Background(), c, "RADIO", 1, nil)
	require.NoError(t, err)
	l, _ = c.Line("RADIO")
	require.True(t, l.LowStock)
	require.Equal(t, 2, l.StockLeft)
}

func TestStockFlagsCountEveryLineOfProduct(t *testing.T) {
	e, _ := newEngine(radio())
	c := New("s")
	ctx := context.Background()
	price := dec("450")

	_, err := e.Add(ctx, c, "RADIO", 5, nil)
	require.NoError(t, err)
	base, _ := c.Line("RADIO")
	require.Equal(t, 5, base.StockLeft)
	require.False(t, base.LowStock)

	_, err = e.Add(ctx, c, "RADIO", 3, &price)
	require.NoError(t, err)
	for _, code := range []string{"RADIO", "RADIO_450.00"} {
		l, ok := c.Line(code)
		require.True(t, ok, code)
		require.Equal(t, 2, l.StockLeft, code)
		require.True(t, l.LowStock, code)
	}

	_, err = e.SetQuantity(ctx, c, "RADIO_450.00", 1)
	require.NoError(t, err)
	base, _ = c.Line("RADIO")
	require.Equal(t, 4, base.StockLeft)
	require.False(t, base.LowStock)

	_, err = e.Remove(ctx, c, "RADIO_450.00")
	require.NoError(t, err)
	base, _ = c.Line("RADIO")
	require.Equal(t, 5, base.StockLeft)
}

func TestAddVariablePriceKeyWithoutPrice(t *testing.T) {
	e, _ := newEngine(radio())
	c := New("s")
	ctx := context.Background()

	_, err := e.Add(ctx, c, "RADIO_450.00", 1, nil)
	require.True(t, errors.Is(err, ErrPriceRequired))
	require.True(t, errors.Is(err, common.ErrValidation))
	require.Equal(t, 0, c.Len())

	price := dec("450")
	_, err = e.Add(ctx, c, "RADIO", 1, &price)
	require.NoError(t, err)

	out, err := e.Add(ctx, c, "RADIO_450.00", 2, nil)
	require.NoError(t, err)
	require.Equal(t, Applied, out)
	require.Equal(t, 1, c.Len())
	_, ok := c.Line("RADIO")
	require.False(t, ok)

	l, _ := c.Line("RADIO_450.00")
	require.Equal(t, 3, l.Quantity)
	require.True(t, l.VariablePrice)
	require.Equal(t, "1350.00", money.Format(l.Total))
	requireLineConsistent(t, l)
}

func TestNonTaxableLineHasNoVAT(t *testing.T) {
	p := cola()
	p.VATApplicable = false
	e, _ := newEngine(p)
	c := New("s")
	_, err := e.Add(context.Background(), c, "COLA", 4, nil)
	require.NoError(t, err)
	l, _ := c.Line("COLA")
	require.False(t, l.VATApplicable)
	require.True(t, l.VAT.IsZero())
	require.Equal(t, "5.60", money.Format(l.Profit))
}

func TestReturnsNegatesEveryLine(t *testing.T) {
	e, _ := newEngine(cola(), radio())
	c := New("s")
	ctx := context.Background()
	_, err := e.Add(ctx, c, "COLA", 4, nil)
	require.NoError(t, err)
	_, err = e.Add(ctx, c, "RADIO", 1, nil)
	require.NoError(t, err)
	before := c.Totals()

	require.Equal(t, Applied, e.Returns(c))
	after := c.Totals()
	require.True(t, after.Total.Equal(before.Total.Neg()))
	require.True(t, after.VAT.Equal(before.VAT.Neg()))
	require.Equal(t, -before.Items, after.Items)

	l, _ := c.Line("RADIO")
	require.Equal(t, -1, l.Quantity)
	require.True(t, l.UnitPrice.IsPositive())
}

func TestClearAndRemove(t *testing.T) {
	e, _ := newEngine(cola())
	c := New("s")
	require.Equal(t, Noop, e.Clear(c))
	_, err := e.Add(context.Background(), c, "COLA", 1, nil)
	require.NoError(t, err)

	_, err = e.Remove(context.Background(), c, "RADIO")
	require.True(t, errors.Is(err, ErrNotInCart))
	out, err := e.Remove(context.Background(), c, "COLA")
	require.NoError(t, err)
	require.Equal(t, Removed, out)

	_, err = e.Add(context.Background(), c, "COLA", 1, nil)
	require.NoError(t, err)
	require.Equal(t, Applied, e.Clear(c))
	require.Equal(t, 0, c.Len())
}

func TestTotalsMatchLineSums(t *testing.T) {
	e, _ := newEngine(cola(), radio())
	c := New("s")
	ctx := context.Background()
	_, err := e.Add(ctx, c, "COLA", 3, nil)
	require.NoError(t, err)
	_, err = e.Add(ctx, c, "RADIO", 2, nil)
	require.NoError(t, err)

	tot := c.Totals()
	require.Equal(t, "1008.25", money.Format(tot.Total))
	require.Equal(t, "0.75", money.Format(tot.Deposit))
	require.True(t, tot.SubTotal.Equal(tot.Total.Sub(tot.VAT)))
	require.Equal(t, 5, tot.Items)

	snap := c.Snapshot()
	require.Len(t, snap.Lines, 2)
	require.Equal(t, "COLA", snap.Lines[0].Code)
}
