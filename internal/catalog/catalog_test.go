package catalog_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/catalog"
	"github.com/noah-isme/retail-pos/internal/common"
)

type countingReader struct {
	inner *catalog.Memory
	calls atomic.Int32
}

func (c *countingReader) GetByCode(ctx context.Context, code string) (catalog.Product, error) {
	c.calls.Add(1)
	return c.inner.GetByCode(ctx, code)
}

func TestBaseCode(t *testing.T) {
	require.Equal(t, "4011", catalog.BaseCode("4011_2.50"))
	require.Equal(t, "4011", catalog.BaseCode("4011"))
	require.Equal(t, "_x", catalog.BaseCode("_x"))
}

func TestLookupFallsBackToBaseCode(t *testing.T) {
	mem := catalog.NewMemory(catalog.Product{Code: "4011", Name: "Bananas", SalePrice: decimal.RequireFromString("1.99")})
	p, err := catalog.Lookup(context.Background(), mem, "4011_0.99")
	require.NoError(t, err)
	require.Equal(t, "Bananas", p.Name)

	_, err = catalog.Lookup(context.Background(), mem, "9999_1.00")
	require.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMemoryUpdateAllIsAllOrNothing(t *testing.T) {
	mem := catalog.NewMemory(
		catalog.Product{Code: "A", OnHand: 5},
		catalog.Product{Code: "B", OnHand: 1},
	)
	fail := errors.New("short")
	err := mem.UpdateAll([]string{"A", "B"}, func(p *catalog.Product) error {
		if p.OnHand < 2 {
			return fail
		}
		p.OnHand -= 2
		return nil
	})
	require.ErrorIs(t, err, fail)
	a, _ := mem.GetByCode(context.Background(), "A")
	require.Equal(t, 5, a.OnHand)
}

func TestCachedReaderServesFromRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pct := decimal.NewFromInt(18)
	inner := &countingReader{inner: catalog.NewMemory(catalog.Product{
		Code:          "COLA",
		Name:          "Cola 1L",
		SalePrice:     decimal.RequireFromString("2.50"),
		VATApplicable: true,
		VATPercentage: &pct,
		Deposit:       &catalog.DepositCategory{Name: "PET", Value: decimal.RequireFromString("0.25")},
	})}
	reader := catalog.Cached{Next: inner, Cache: catalog.NewCache(client, time.Minute), Logger: zerolog.Nop()}

	ctx := context.Background()
	first, err := reader.GetByCode(ctx, "COLA")
	require.NoError(t, err)
	second, err := reader.GetByCode(ctx, "COLA")
	require.NoError(t, err)

	require.EqualValues(t, 1, inner.calls.Load())
	require.True(t, first.SalePrice.Equal(second.SalePrice))
	require.True(t, second.DepositPerUnit().Equal(decimal.RequireFromString("0.25")))
	require.True(t, mr.Exists(catalog.ProductKey("COLA")))

	_, err = reader.GetByCode(ctx, "NOPE")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = reader.GetByCode(ctx, "NOPE")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.EqualValues(t, 2, inner.calls.Load(), "unknown codes are remembered")

	require.NoError(t, reader.Cache.Forget(ctx, "COLA", "NOPE"))
	require.False(t, mr.Exists(catalog.ProductKey("COLA")))
	_, err = reader.GetByCode(ctx, "COLA")
	require.NoError(t, err)
	require.EqualValues(t, 3, inner.calls.Load())
}

func TestCachedReaderWithoutRedis(t *testing.T) {
	inner := &countingReader{inner: catalog.NewMemory(catalog.Product{Code: "A", SalePrice: decimal.NewFromInt(1)})}
	reader := catalog.Cached{Next: inner, Logger: zerolog.Nop()}

	for i := 0; i < 2; i++ {
		_, err := reader.GetByCode(context.Background(), "A")
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, inner.calls.Load())
}
