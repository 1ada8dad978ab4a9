package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker trips after a run of consecutive failures and lets a single probe
// through once the cool-off has passed.
type Breaker struct {
	mu        sync.Mutex
	name      string
	state     State
	failures  int
	threshold int
	openFor   time.Duration
	openedAt  time.Time
	now       func() time.Time
	logger    zerolog.Logger
}

// NewBreaker builds a breaker named for its downstream.
func NewBreaker(name string, threshold int, openFor time.Duration, logger zerolog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	b := &Breaker{name: name, threshold: threshold, openFor: openFor, now: time.Now, logger: logger}
	observeState(name, Closed)
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
		return true
	case HalfOpen:
		// a probe is already in flight
		return false
	default:
		return true
	}
}

// Report records a call outcome.
func (b *Breaker) Report(ctx context.Context, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.failures = 0
		if b.state != Closed {
			b.moveLocked(ctx, Closed)
		}
		return
	}
	if b.state == HalfOpen {
		b.moveLocked(ctx, Open)
		return
	}
	b.failures++
	if b.state == Closed && b.failures >= b.threshold {
		b.moveLocked(ctx, Open)
	}
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	b.state = next
	if next == Open {
		b.openedAt = b.now()
	}
	b.failures = 0
	observeState(b.name, next)
	observeTransition(b.name, prev, next)
	b.logger.Info().Ctx(ctx).Str("breaker", b.name).Str("from", prev.String()).Str("to", next.String()).Msg("breaker_transition")
}

// Backoff is an exponential delay for the given attempt (1-based) with
// optional jitter as a fraction of the delay.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if jitter <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * jitter * float64(d)
	return d + time.Duration(delta)
}
