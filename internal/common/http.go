package common

import (
	"net"
	"net/http"
	"strings"
)

// OperatorHeader carries the operator identity set by the surrounding session layer.
const OperatorHeader = "X-Operator"

// Operator returns the operator identity for the request, falling back to the
// client address so anonymous tills are still told apart.
func Operator(r *http.Request) string {
	if r == nil {
		return ""
	}
	if op := strings.TrimSpace(r.Header.Get(OperatorHeader)); op != "" {
		return op
	}
	return ClientIP(r)
}

// ClientIP returns the host part of RemoteAddr. Forwarded headers are already
// folded into RemoteAddr by chi's RealIP middleware.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
