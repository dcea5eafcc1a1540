package money_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/common"
	"github.com/noah-isme/retail-pos/internal/money"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuantizeHalfUp(t *testing.T) {
	cases := map[string]string{
		"1.005":   "1.01",
		"1.004":   "1",
		"2.675":   "2.68",
		"-1.005":  "-1.01",
		"228.813": "228.81",
		"0.125":   "0.13",
	}
	for in, want := range cases {
		require.True(t, money.Quantize(d(in)).Equal(d(want)), "quantize %s", in)
	}
}

func TestParse(t *testing.T) {
	require.Equal(t, "12.35", money.Format(money.Parse("12.345")))
	require.Equal(t, "0.00", money.Format(money.Parse("abc")))
	require.Equal(t, "0.00", money.Format(money.Parse(nil)))
	require.Equal(t, "7.00", money.Format(money.Parse(7)))
	require.Equal(t, "0.10", money.Format(money.Parse(0.1)))
	var nilDec *decimal.Decimal
	require.Equal(t, "0.00", money.Format(money.Parse(nilDec)))
	require.Equal(t, "0.00", money.Format(money.Parse(struct{}{})))
}

func TestParseStrict(t *testing.T) {
	v, err := money.ParseStrict(" 400.50 ")
	require.NoError(t, err)
	require.True(t, v.Equal(d("400.5")))

	_, err = money.ParseStrict("4x")
	require.True(t, errors.Is(err, common.ErrValidation))

	_, err = money.ParseStrict("1.001")
	require.True(t, errors.Is(err, common.ErrValidation))

	_, err = money.ParseStrict("")
	require.True(t, errors.Is(err, common.ErrValidation))
}

func TestExtractVATScenario(t *testing.T) {
	gross := money.Mul(d("500"), 3)
	vat := money.ExtractVAT(gross, d("18"))
	require.Equal(t, "228.81", money.Format(vat))
	require.True(t, money.ExtractVAT(gross, decimal.Zero).IsZero())
}

func TestExtractVATMatchesFormula(t *testing.T) {
	prices := []string{"0.01", "0.99", "1.50", "9.99", "19.95", "123.45", "500", "999.99"}
	pcts := []string{"5", "7.5", "10", "18", "21", "25"}
	hundred := decimal.NewFromInt(100)
	for _, p := range prices {
		for _, pct := range pcts {
			for qty := 1; qty <= 12; qty++ {
				gross := money.Mul(d(p), qty)
				want := gross.Mul(d(pct)).Div(hundred.Add(d(pct))).Round(2)
				got := money.ExtractVAT(gross, d(pct))
				require.True(t, want.Equal(got), "price %s qty %d pct %s: want %s got %s", p, qty, pct, want, got)
			}
		}
	}
}

func TestSum(t *testing.T) {
	require.Equal(t, "3.01", money.Format(money.Sum(d("1.004"), d("1.004"), d("1.004"))))
}
