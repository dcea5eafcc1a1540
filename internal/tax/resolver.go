// Package tax resolves VAT applicability and percentage for catalog products.
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/catalog"
)

// DefaultPercent is the jurisdiction default used when a taxable product has
// no percentage of its own.
var DefaultPercent = decimal.NewFromInt(18)

var maxPercent = decimal.NewFromInt(100)

// Resolver resolves VAT for products. The zero value uses DefaultPercent.
type Resolver struct {
	Default decimal.Decimal
}

// NewResolver builds a resolver with the given default percentage.
func NewResolver(defaultPct decimal.Decimal) Resolver {
	return Resolver{Default: defaultPct}
}

// Resolve returns the VAT percentage and whether VAT applies. Precedence is the
// product flag, the product percentage, the tax category percentage and then
// the default. A zero percentage counts as unset. Unusable data degrades to
// (0, false).
func (r Resolver) Resolve(p *catalog.Product) (decimal.Decimal, bool) {
	if p == nil || !p.VATApplicable {
		return decimal.Zero, false
	}
	var pct decimal.Decimal
	switch {
	case usable(p.VATPercentage):
		pct = *p.VATPercentage
	case p.TaxCategory != nil && usable(p.TaxCategory.Percentage):
		pct = *p.TaxCategory.Percentage
	default:
		pct = r.defaultPercent()
	}
	if !pct.IsPositive() || pct.GreaterThan(maxPercent) {
		return decimal.Zero, false
	}
	return pct, true
}

func (r Resolver) defaultPercent() decimal.Decimal {
	if r.Default.IsZero() {
		return DefaultPercent
	}
	return r.Default
}

func usable(pct *decimal.Decimal) bool {
	return pct != nil && pct.IsPositive()
}
