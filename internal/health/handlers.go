// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-eushop/internal/common"
)

var draining atomic.Bool

// SetReady flips readiness; the API clears it when draining on shutdown.
func SetReady(v bool) { draining.Store(!v) }

// Probe is one named readiness dependency.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

var errNotConfigured = errors.New("not configured")

func Postgres(pool *pgxpool.Pool) Probe {
	return Probe{Name: "postgres", Timeout: 500 * time.Millisecond, Check: func(ctx context.Context) error {
		if pool == nil {
			return errNotConfigured
		}
		return pool.Ping(ctx)
	}}
}

func Redis(client *redis.Client) Probe {
	return Probe{Name: "redis", Timeout: 300 * time.Millisecond, Check: func(ctx context.Context) error {
		if client == nil {
			return errNotConfigured
		}
		return client.Ping(ctx).Err()
	}}
}

type Handler struct {
	Probes []Probe
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready runs every probe concurrently, each under its own timeout. Any
// failing probe, or a draining server, answers 503.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSONError(w, http.StatusServiceUnavailable, "NOT_READY", "shutting down", nil)
		return
	}
	if len(h.Probes) == 0 {
		common.JSONError(w, http.StatusServiceUnavailable, "NOT_READY", "no dependencies configured", nil)
		return
	}

	out := readiness{Status: "ok", Checks: make(map[string]string, len(h.Probes))}
	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range h.Probes {
		g.Go(func() error {
			result := "ok"
			if err := p.run(r.Context()); err != nil {
				result = err.Error()
			}
			mu.Lock()
			out.Checks[p.Name] = result
			if result != "ok" {
				out.Status = "unavailable"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if out.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, out)
}

func (p Probe) run(ctx context.Context) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return p.Check(ctx)
}
