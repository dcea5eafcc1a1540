package cart

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/money"
)

// Cart holds the pending lines of one session keyed by item code. It is owned
// by a single session and is not safe for concurrent use.
type Cart struct {
	Session string           `json:"session"`
	Lines   map[string]*Line `json:"lines"`
}

// New returns an empty cart for session.
func New(session string) *Cart {
	return &Cart{Session: session, Lines: map[string]*Line{}}
}

// Totals are the cart aggregates, each quantized once.
type Totals struct {
	Total    decimal.Decimal `json:"total"`
	VAT      decimal.Decimal `json:"vat"`
	SubTotal decimal.Decimal `json:"subTotal"`
	Deposit  decimal.Decimal `json:"deposit"`
	Profit   decimal.Decimal `json:"profit"`
	Items    int             `json:"items"`
}

// Snapshot is a typed, order-stable copy of the cart for rendering and commit.
type Snapshot struct {
	Session string `json:"session"`
	Lines   []Line `json:"lines"`
	Totals  Totals `json:"totals"`
}

// Len reports the number of lines.
func (c *Cart) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Lines)
}

// Line returns a copy of the line stored under code.
func (c *Cart) Line(code string) (Line, bool) {
	if c == nil || c.Lines == nil {
		return Line{}, false
	}
	l, ok := c.Lines[code]
	if !ok || l == nil {
		return Line{}, false
	}
	return *l, true
}

// Total sums the line totals.
func (c *Cart) Total() decimal.Decimal {
	return c.sum(func(l *Line) decimal.Decimal { return l.Total })
}

// VATTotal sums the line VAT amounts.
func (c *Cart) VATTotal() decimal.Decimal {
	return c.sum(func(l *Line) decimal.Decimal { return l.VAT })
}

// ProfitTotal sums the line profits.
func (c *Cart) ProfitTotal() decimal.Decimal {
	return c.sum(func(l *Line) decimal.Decimal { return l.Profit })
}

// DepositTotal sums the line deposits.
func (c *Cart) DepositTotal() decimal.Decimal {
	return c.sum(func(l *Line) decimal.Decimal { return l.Deposit })
}

func (c *Cart) sum(field func(*Line) decimal.Decimal) decimal.Decimal {
	total := money.Zero
	if c == nil {
		return total
	}
	for _, l := range c.Lines {
		total = total.Add(field(l))
	}
	return money.Quantize(total)
}

// Totals computes every aggregate.
func (c *Cart) Totals() Totals {
	t := Totals{
		Total:   c.Total(),
		VAT:     c.VATTotal(),
		Deposit: c.DepositTotal(),
		Profit:  c.ProfitTotal(),
	}
	t.SubTotal = t.Total.Sub(t.VAT)
	if c != nil {
		for _, l := range c.Lines {
			t.Items += l.Quantity
		}
	}
	return t
}

// Snapshot copies the lines sorted by code together with the totals.
func (c *Cart) Snapshot() Snapshot {
	s := Snapshot{Totals: c.Totals(), Lines: []Line{}}
	if c == nil {
		return s
	}
	s.Session = c.Session
	for _, l := range c.Lines {
		s.Lines = append(s.Lines, *l)
	}
	sort.Slice(s.Lines, func(i, j int) bool { return s.Lines[i].Code < s.Lines[j].Code })
	return s
}

// quantityOf sums the quantities of every line selling the product with base code.
func (c *Cart) quantityOf(base string) int {
	total := 0
	if c == nil {
		return total
	}
	for code, l := range c.Lines {
		if catalog.BaseCode(code) == base {
			total += l.Quantity
		}
	}
	return total
}

func (c *Cart) holds(base string) bool {
	for code := range c.Lines {
		if catalog.BaseCode(code) == base {
			return true
		}
	}
	return false
}

// markStock refreshes stock flags on every line selling base.
func (c *Cart) markStock(base string, onHand, threshold int) {
	inCart := c.quantityOf(base)
	for code, l := range c.Lines {
		if catalog.BaseCode(code) == base {
			l.markStock(onHand, inCart, threshold)
		}
	}
}

func (c *Cart) ensure() {
	if c.Lines == nil {
		c.Lines = map[string]*Line{}
	}
}
