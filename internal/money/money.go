// Package money holds the fixed-point helpers every monetary value goes
// through. Values are shopspring decimals; they are quantized to two places
// with half-up rounding only when stored or compared.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/retail-pos/internal/common"
)

// Places is the number of fractional digits every stored amount carries.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Zero is the additive identity.
var Zero = decimal.Zero

// Quantize rounds d to two places, half away from zero.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse converts any numeric-like value into a quantized decimal. Unparseable
// input yields zero.
func Parse(v any) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return Zero
	case decimal.Decimal:
		return Quantize(x)
	case *decimal.Decimal:
		if x == nil {
			return Zero
		}
		return Quantize(*x)
	case decimal.NullDecimal:
		if !x.Valid {
			return Zero
		}
		return Quantize(x.Decimal)
	case int:
		return decimal.NewFromInt(int64(x))
	case int32:
		return decimal.NewFromInt32(x)
	case int64:
		return decimal.NewFromInt(x)
	case float32:
		return Quantize(decimal.NewFromFloat32(x))
	case float64:
		return Quantize(decimal.NewFromFloat(x))
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return Zero
		}
		return Quantize(d)
	case fmt.Stringer:
		return Parse(x.String())
	default:
		return Zero
	}
}

// ParseStrict parses s for input boundaries where a silent zero would hide an
// error. Amounts with more than two fractional digits are rejected.
func ParseStrict(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, common.Validation("amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, common.Validation("invalid amount %q", s)
	}
	if !d.Equal(Quantize(d)) {
		return Zero, common.Validation("amount %q has more than %d decimal places", s, Places)
	}
	return d, nil
}

// Mul multiplies d by an integer quantity without rounding.
func Mul(d decimal.Decimal, qty int) decimal.Decimal {
	return d.Mul(decimal.NewFromInt(int64(qty)))
}

// Sum adds the values and quantizes the result once.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return Quantize(total)
}

// ExtractVAT returns the tax portion already contained in a VAT-inclusive
// gross amount: gross*pct/(100+pct), quantized.
func ExtractVAT(gross, pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() {
		return Zero
	}
	return Quantize(gross.Mul(pct).Div(hundred.Add(pct)))
}

// Format renders d with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return Quantize(d).StringFixed(Places)
}
