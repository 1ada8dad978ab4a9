package security

import (
	"fmt"
	"net/http"
	"strings"
)

// Headers sets hardening and caching headers on every response.
//
// Responses default to Cache-Control: no-store since carts, orders and VAT
// profiles are per buyer. GETs under a Public prefix are catalog and reference
// data and may be cached for PublicMaxAge seconds.
type Headers struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	Public                []string
	PublicMaxAge          int
}

func (h Headers) Middleware(next http.Handler) http.Handler {
	hsts := ""
	if h.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d", h.HSTSMaxAge)
		if h.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := w.Header()
		out.Set("X-Content-Type-Options", "nosniff")
		out.Set("X-Frame-Options", "DENY")
		out.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		out.Set("Cache-Control", h.cacheControl(r))
		if hsts != "" && secure(r) {
			out.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) cacheControl(r *http.Request) string {
	if h.PublicMaxAge > 0 && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		for _, p := range h.Public {
			if strings.HasPrefix(r.URL.Path, p) {
				return fmt.Sprintf("public, max-age=%d", h.PublicMaxAge)
			}
		}
	}
	return "no-store"
}

// secure reports TLS either terminated here or at the proxy in front.
func secure(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
