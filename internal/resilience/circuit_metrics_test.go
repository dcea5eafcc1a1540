package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/resilience"
)

func TestBreakerPublishesPrinterOutage(t *testing.T) {
	resilience.MustRegisterMetrics("pos", prometheus.NewRegistry())
	resilience.BreakerState.Reset()
	resilience.BreakerTransitions.Reset()
	resilience.BreakerOpenedTotal.Reset()

	clock := &fakeClock{t: time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)}
	printer := resilience.NewBreaker(1, 0.5, 30*time.Second).WithTarget("printer").WithClock(clock.now)
	ctx := context.Background()
	jam := errors.New("paper jam")
	state := func() float64 { return testutil.ToFloat64(resilience.BreakerState.WithLabelValues("printer")) }
	moved := func(from, to string) float64 {
		return testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("printer", from, to))
	}

	require.ErrorIs(t, printer.Do(ctx, func(context.Context) error { return jam }), jam)
	require.Equal(t, 1.0, state())

	clock.advance(30 * time.Second)
	require.ErrorIs(t, printer.Do(ctx, func(context.Context) error { return jam }), jam)
	require.Equal(t, 1.0, state(), "failed probe reopens")

	clock.advance(30 * time.Second)
	require.NoError(t, printer.Do(ctx, func(context.Context) error { return nil }))
	require.Equal(t, 0.0, state())

	require.Equal(t, 2.0, testutil.ToFloat64(resilience.BreakerOpenedTotal.WithLabelValues("printer")))
	require.Equal(t, 1.0, moved("closed", "open"))
	require.Equal(t, 2.0, moved("open", "half_open"))
	require.Equal(t, 1.0, moved("half_open", "open"))
	require.Equal(t, 1.0, moved("half_open", "closed"))
}
