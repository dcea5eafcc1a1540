package security

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyLimit(t *testing.T) {
	var seen string
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	})
	handler := BodyLimit{Max: 32}.Middleware(echo)

	cases := []struct {
		name     string
		method   string
		body     string
		declared int64
		status   int
	}{
		{"scan fits", http.MethodPost, `{"code":"4001","quantity":2}`, 0, http.StatusOK},
		{"streamed checkout too large", http.MethodPost, `{"method":"CASH","tendered":"100.00","note":"x"}`, -1, http.StatusRequestEntityTooLarge},
		{"declared length too large", http.MethodPut, `{}`, 4096, http.StatusRequestEntityTooLarge},
		{"reads pass through", http.MethodGet, strings.Repeat("x", 64), 0, http.StatusOK},
		{"void passes through", http.MethodDelete, strings.Repeat("x", 64), 0, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(tc.method, "/api/v1/carts/till-1/items", strings.NewReader(tc.body))
			if tc.declared != 0 {
				req.ContentLength = tc.declared
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				require.Equal(t, tc.body, seen)
				return
			}
			require.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
			require.Contains(t, rec.Body.String(), `"max_bytes":32`)
			require.Empty(t, seen)
		})
	}
}

func TestBodyLimitDefaultsWhenUnset(t *testing.T) {
	handler := BodyLimit{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/till-1/checkout", strings.NewReader(strings.Repeat("a", int(DefaultMaxBody)+1)))
	req.ContentLength = -1
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
