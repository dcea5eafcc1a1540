package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaders(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	cases := []struct {
		name    string
		cfg     Headers
		tls     bool
		nosniff string
		hsts    string
	}{
		{"tls with hsts", Headers{Enable: true, EnableHSTS: true, HSTSMaxAge: 600}, true, "nosniff", "max-age=600"},
		{"default hsts age", Headers{Enable: true, EnableHSTS: true}, true, "nosniff", "max-age=31536000"},
		{"plain http never gets hsts", Headers{Enable: true, EnableHSTS: true}, false, "nosniff", ""},
		{"disabled", Headers{EnableHSTS: true}, true, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := httptest.NewRecorder()
			tc.cfg.Middleware(ok).ServeHTTP(rec, req)

			require.Equal(t, tc.nosniff, rec.Header().Get("X-Content-Type-Options"))
			require.Equal(t, tc.hsts, rec.Header().Get("Strict-Transport-Security"))
			if tc.cfg.Enable {
				require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			}
		})
	}
}
