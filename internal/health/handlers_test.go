package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/retail-pos/internal/health"
	"github.com/noah-isme/retail-pos/internal/resilience"
)

type probes struct {
	db, redis error
}

func (p probes) PingDB(context.Context, time.Duration) error    { return p.db }
func (p probes) PingRedis(context.Context, time.Duration) error { return p.redis }

func serve(t *testing.T, h health.Handler, path string) (int, map[string]string) {
	t.Helper()
	r := chi.NewRouter()
	h.Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if path == "/health/live" {
		return rec.Code, map[string]string{"body": rec.Body.String()}
	}
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	out := make(map[string]string, len(body))
	for k, v := range body {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return rec.Code, out
}

func TestLiveIgnoresDependencies(t *testing.T) {
	code, body := serve(t, health.Handler{Checker: probes{db: errors.New("down")}}, "/health/live")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["body"])
}

func TestReady(t *testing.T) {
	cases := []struct {
		name   string
		check  health.Checker
		status int
		key    string
		want   string
	}{
		{"all up", probes{}, http.StatusOK, "db", "ok"},
		{"database down", probes{db: errors.New("connection refused")}, http.StatusServiceUnavailable, "db", "connection refused"},
		{"redis down", probes{redis: errors.New("i/o timeout")}, http.StatusServiceUnavailable, "redis", "i/o timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := serve(t, health.Handler{Checker: tc.check, DBTimeout: 20 * time.Millisecond}, "/health/ready")
			require.Equal(t, tc.status, code)
			require.Equal(t, tc.want, body[tc.key])
		})
	}
}

func TestReadyWithoutChecker(t *testing.T) {
	r := chi.NewRouter()
	health.Handler{}.Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "UNAVAILABLE")
}

func TestReadyDrainsAfterShutdown(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })

	health.SetReady(false)
	code, body := serve(t, health.Handler{Checker: probes{}}, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "draining", body["shutdown"])

	health.SetReady(true)
	code, body = serve(t, health.Handler{Checker: probes{}}, "/health/ready")
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, body, "shutdown")
}

func TestReadyReportsOpenPrinterBreaker(t *testing.T) {
	printer := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("printer")
	printer.Report(context.Background(), false)

	code, body := serve(t, health.Handler{Checker: probes{}, Breakers: []*resilience.Breaker{printer, nil}}, "/health/ready")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "open", body["breaker:printer"])
}
