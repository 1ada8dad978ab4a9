package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client performs outbound GETs with a timeout, retries and a breaker.
type Client struct {
	HTTP        *http.Client
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Timeout     time.Duration
}

// NewHTTPClient returns an http.Client whose transport is traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("resilience: unexpected status %d", e.Code) }

// Get fetches url and returns the body. 5xx responses and transport errors
// are retried; 4xx are returned immediately.
func (c Client) Get(ctx context.Context, url string) ([]byte, error) {
	if c.HTTP == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.Breaker != nil && !c.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		body, retry, err := c.once(ctx, url)
		if c.Breaker != nil {
			c.Breaker.Report(ctx, err == nil || !retry)
		}
		if err == nil || !retry {
			return body, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(Backoff(c.BaseBackoff, attempt, 0.2))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// GetJSON fetches url and decodes the JSON body into out.
func (c Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("resilience: decode %s: %w", url, err)
	}
	return nil
}

func (c Client) once(ctx context.Context, url string) ([]byte, bool, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, &StatusError{Code: resp.StatusCode}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, false, &StatusError{Code: resp.StatusCode}
	}
	return body, false, nil
}
