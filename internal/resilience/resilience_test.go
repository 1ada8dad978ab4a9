package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-eushop/internal/resilience"
)

func TestBreakerTransitions(t *testing.T) {
	ctx := context.Background()
	b := resilience.NewBreaker("geo-test", 2, 30*time.Millisecond, zerolog.Nop())

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
	require.False(t, b.Allow(ctx))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("geo-test")))

	require.Eventually(t, func() bool { return b.Allow(ctx) }, 200*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, resilience.HalfOpen, b.State())
	require.False(t, b.Allow(ctx), "only one probe while half-open")
	b.Report(ctx, true)
	require.Equal(t, resilience.Closed, b.State())
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("geo-test", "closed", "open")))
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))
	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"country_code":"DE"}`))
	}))
	defer srv.Close()

	c := resilience.Client{HTTP: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond}
	var out struct {
		CountryCode string `json:"country_code"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	require.Equal(t, "DE", out.CountryCode)
	require.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := resilience.Client{HTTP: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond}
	_, err := c.Get(context.Background(), srv.URL)
	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Code)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientOpenBreakerShortCircuits(t *testing.T) {
	b := resilience.NewBreaker("short", 1, time.Minute, zerolog.Nop())
	b.Report(context.Background(), false)
	c := resilience.Client{HTTP: http.DefaultClient, Breaker: b}
	_, err := c.Get(context.Background(), "http://127.0.0.1:1/")
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}
