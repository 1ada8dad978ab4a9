package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// NewLogger builds the process logger. format "console" (or "text") gives
// human readable output; anything else is JSON.
func NewLogger(format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// RequestLogger writes one line per request with route, timing, trace ids
// and the cart or order the request touched.
type RequestLogger struct {
	Logger zerolog.Logger
	// CountryHeader is logged as ip_country when the edge sets it.
	CountryHeader string
}

func (l RequestLogger) Middleware(next http.Handler) http.Handler {
	countryHeader := l.CountryHeader
	if countryHeader == "" {
		countryHeader = "CF-IPCountry"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := routeOf(r)
		if route == "" {
			route = r.URL.Path
		}
		evt := l.Logger.Info()
		switch {
		case rec.Status() >= http.StatusInternalServerError:
			evt = l.Logger.Error()
		case rec.Status() >= http.StatusBadRequest:
			evt = l.Logger.Warn()
		}
		evt = evt.
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", rec.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Int64("bytes", rec.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context()))
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			evt = evt.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
		for _, param := range []string{"cartID", "orderID"} {
			if v := chi.URLParam(r, param); v != "" {
				evt = evt.Str(snake(param), v)
			}
		}
		if country := strings.TrimSpace(r.Header.Get(countryHeader)); country != "" {
			evt = evt.Str("ip_country", country)
		}
		if ua := r.UserAgent(); ua != "" {
			evt = evt.Str("user_agent", ua)
		}
		evt.Str("remote_addr", r.RemoteAddr).Msg("http_request")
	})
}

// snake turns cartID into cart_id.
func snake(param string) string {
	return strings.ToLower(strings.TrimSuffix(param, "ID")) + "_id"
}
