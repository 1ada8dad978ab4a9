package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached by Middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Middleware checks bearer tokens issued by the storefront host.
type Middleware struct {
	Verifier Verifier
}

// Authenticate lets anonymous requests through and attaches the principal
// and its buyer profile for valid tokens. A token that is present but fails
// verification is answered with 401 rather than silently downgraded.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearer(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Verifier.Verify(raw)
		if err != nil {
			unauthorized(w, "invalid_token")
			return
		}
		next.ServeHTTP(w, r.WithContext(attach(r.Context(), p)))
	})
}

// RequireRole admits only principals granted role. It reuses the principal
// attached by Authenticate when the route is mounted below it.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, ok := PrincipalFrom(ctx)
			if !ok {
				raw, present := bearer(r)
				if !present {
					unauthorized(w, "")
					return
				}
				var err error
				if p, err = m.Verifier.Verify(raw); err != nil {
					unauthorized(w, "invalid_token")
					return
				}
				ctx = attach(ctx, p)
			}
			if !p.HasRole(role) {
				common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func attach(ctx context.Context, p Principal) context.Context {
	ctx = WithPrincipal(ctx, p)
	if p.Profile.Authenticated {
		ctx = vat.WithProfile(ctx, p.Profile)
	}
	return ctx
}

func bearer(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, reason string) {
	challenge := `Bearer realm="eushop"`
	if reason != "" {
		challenge += `, error="` + reason + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
}
