package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// Idem makes POSTs carrying an Idempotency-Key safe to retry. The first
// request runs; its response is stored for TTL and replayed to repeats with
// the same key and body. Keys are scoped to the request path.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type storedResponse struct {
	Body        []byte `json:"body"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Request     string `json:"request"`
}

// captureWriter tees the response so it can be stored after the handler returns.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		var payload []byte
		if r.Body != nil {
			var err error
			if payload, err = io.ReadAll(r.Body); err != nil {
				JSONError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))
		}
		key := "idem:" + Digest(r.URL.Path, header)
		fingerprint := Digest(string(payload))
		ctx := r.Context()

		fresh, err := i.R.SetNX(ctx, key, pendingMarker, i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
			return
		}
		if !fresh {
			i.replay(ctx, w, key, fingerprint)
			return
		}

		cw := &captureWriter{ResponseWriter: w}
		completed := false
		defer func() {
			store := context.WithoutCancel(ctx)
			if !completed || cw.status >= http.StatusInternalServerError {
				// let the client retry after a crash or server error
				_ = i.R.Del(store, key).Err()
				return
			}
			rec, _ := json.Marshal(storedResponse{
				Body:        cw.body.Bytes(),
				Status:      cw.status,
				ContentType: cw.Header().Get("Content-Type"),
				Request:     fingerprint,
			})
			_ = i.R.Set(store, key, rec, i.TTL).Err()
		}()
		next.ServeHTTP(cw, r)
		completed = true
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key, fingerprint string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "request expired, retry with a new key", nil)
		return
	case err != nil:
		JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
		return
	case string(raw) == pendingMarker:
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "original request still in progress", nil)
		return
	}
	var rec storedResponse
	if err := json.Unmarshal(raw, &rec); err != nil {
		JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", nil)
		return
	}
	if rec.Request != fingerprint {
		JSONError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "key was used with a different request body", nil)
		return
	}
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
