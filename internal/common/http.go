package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the buyer's address: the first valid X-Forwarded-For hop,
// then X-Real-IP, then the connection's remote address. It feeds rate limit
// keys and geolocation, so malformed header values are skipped.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); validIP(first) {
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); validIP(xri) {
		return strings.TrimSpace(xri)
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func validIP(s string) bool {
	return net.ParseIP(strings.TrimSpace(s)) != nil
}
