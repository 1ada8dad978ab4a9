// Package ratelimit throttles abusive clients on write endpoints.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/obs"
)

// Allower records one hit for key and reports whether it is within limit.
type Allower interface {
	Allow(ctx context.Context, key string) (allowed bool, limit, remaining int, reset time.Time, err error)
}

// KeyFunc derives the bucket a request is counted in; "" skips limiting.
type KeyFunc func(*http.Request) string

// ByClientIP buckets requests per client address.
func ByClientIP(r *http.Request) string {
	return common.ClientIP(r)
}

// Handler guards one route group. Scope namespaces the buckets and labels
// the rate_limit_total metric.
type Handler struct {
	Scope   string
	Limiter Allower
	Key     KeyFunc
	// OnError observes limiter failures; the request is let through.
	OnError func(error)
}

func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := h.Key(r)
		if bucket == "" {
			next.ServeHTTP(w, r)
			return
		}
		ok, limit, remaining, reset, err := h.Limiter.Allow(r.Context(), h.Scope+":"+bucket)
		if err != nil {
			obs.Count(obs.RateLimitTotal, h.Scope, "error")
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}
		writeQuota(w.Header(), limit, remaining, reset)
		if !ok {
			obs.Count(obs.RateLimitTotal, h.Scope, "limited")
			wait := time.Until(reset).Round(time.Second)
			w.Header().Set("Retry-After", strconv.Itoa(int(max(wait, time.Second)/time.Second)))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", map[string]any{
				"retryAfterSeconds": int(max(wait, time.Second) / time.Second),
			})
			return
		}
		obs.Count(obs.RateLimitTotal, h.Scope, "allowed")
		next.ServeHTTP(w, r)
	})
}

func writeQuota(hdr http.Header, limit, remaining int, reset time.Time) {
	hdr.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	hdr.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}
