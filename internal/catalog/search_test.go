package catalog_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/catalog"
)

func codes(matches []catalog.Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Code)
	}
	return out
}

func TestSearchListsCodePrefixBeforeName(t *testing.T) {
	mem := catalog.NewMemory(
		catalog.Product{Code: "4001", Name: "Cola 1.5L", SalePrice: decimal.RequireFromString("2.50"), OnHand: 120},
		catalog.Product{Code: "4002", Name: "Sparkling Water", SalePrice: decimal.RequireFromString("0.99"), OnHand: 200},
		catalog.Product{Code: "7001", Name: "Batteries 4001 pack", SalePrice: decimal.RequireFromString("5.99"), OnHand: 25},
		catalog.Product{Code: "4003", Name: "4003 Tonic", SalePrice: decimal.RequireFromString("1.20"), OnHand: 12},
		catalog.Product{Code: "9400", Name: "Postage", SalePrice: decimal.RequireFromString("0.95"), OnHand: 500},
	)
	ctx := context.Background()

	got, err := mem.Search(ctx, "400", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"4001", "4002", "4003", "7001"}, codes(got))
	require.True(t, got[0].SalePrice.Equal(decimal.RequireFromString("2.50")))
	require.Equal(t, 120, got[0].OnHand)

	got, err = mem.Search(ctx, "COLA", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"4001"}, codes(got), "name match ignores case")

	got, err = mem.Search(ctx, "4003", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"4003"}, codes(got), "a product matching both ways is listed once")

	got, err = mem.Search(ctx, "   ", 0)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSearchIsCapped(t *testing.T) {
	mem := catalog.NewMemory()
	for i := 0; i < 30; i++ {
		mem.Put(catalog.Product{Code: fmt.Sprintf("50%02d", i), Name: "Gum", SalePrice: decimal.NewFromInt(1)})
	}
	got, err := mem.Search(context.Background(), "50", 100)
	require.NoError(t, err)
	require.Len(t, got, catalog.MaxSearchResults)
	require.Equal(t, "5000", got[0].Code)

	got, err = mem.Search(context.Background(), "gum", 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
}
