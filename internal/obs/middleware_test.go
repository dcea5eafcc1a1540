package obs

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/common"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewHTTPMetrics("pos", []float64{1, 10}, registry)

	r := chi.NewRouter()
	r.Use(HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/carts/{session}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/carts/till-1", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues(http.MethodGet, "/carts/{session}", "204")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues(http.MethodGet, "unmatched", "404")))
	require.Equal(t, 2, testutil.CollectAndCount(metrics.Duration))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.InFlight))

	again := NewHTTPMetrics("pos", nil, registry)
	require.Same(t, metrics.Requests, again.Requests)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10, 25}, ParseBucketsCSV("25, 5,x,-1,10,5"))
	require.Empty(t, ParseBucketsCSV(""))
}

func TestDomainMetricsCount(t *testing.T) {
	MustRegisterDomainMetrics("pos_test", prometheus.NewRegistry())

	before := testutil.ToFloat64(SalesCommittedTotal.WithLabelValues("CASH", "ok"))
	CountSale("CASH", "ok", 12)
	require.Equal(t, before+1, testutil.ToFloat64(SalesCommittedTotal.WithLabelValues("CASH", "ok")))

	rejections := testutil.ToFloat64(InventoryRejectionsTotal)
	CountInventoryRejection()
	require.Equal(t, rejections+1, testutil.ToFloat64(InventoryRejectionsTotal))

	CountDebtTransition("PAID")
	require.GreaterOrEqual(t, testutil.ToFloat64(DebtStatusTransitionsTotal.WithLabelValues("PAID")), float64(1))
}

func TestRequestLoggerWritesOperator(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/sales", nil)
	req.Header.Set(common.OperatorHeader, "cashier-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	require.Contains(t, out, `"operator":"cashier-7"`)
	require.Contains(t, out, `"status":201`)
	require.Contains(t, out, `"message":"http_request"`)
}

func TestSQLOperation(t *testing.T) {
	require.Equal(t, "UPDATE", sqlOperation("\n  update products SET on_hand = on_hand - $1"))
	require.Equal(t, "unknown", sqlOperation("   "))
	require.Equal(t, "SELECT a FROM b", truncateSQL("SELECT a\n\tFROM   b"))
}
