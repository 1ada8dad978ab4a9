// Package security holds HTTP hardening middleware for the shop API.
package security

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/noah-isme/backend-eushop/internal/common"
)

// BodyLimit buffers request bodies up to Max bytes and answers 413 beyond
// that. With JSON set, non-empty writes must declare application/json.
type BodyLimit struct {
	Max  int64
	JSON bool
}

func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if b.Max > 0 && r.ContentLength > b.Max {
			tooLarge(w)
			return
		}
		body := r.Body
		if b.Max > 0 {
			body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		buf, err := io.ReadAll(body)
		_ = r.Body.Close()
		var over *http.MaxBytesError
		switch {
		case errors.As(err, &over):
			tooLarge(w)
			return
		case err != nil:
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid request body", nil)
			return
		}
		if b.JSON && len(buf) > 0 && !isJSON(r.Header.Get("Content-Type")) {
			common.JSONError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "request body must be application/json", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func tooLarge(w http.ResponseWriter) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
}
