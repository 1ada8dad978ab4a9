package obs_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-eushop/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("eushop", []float64{1, 10}, registry)

	router := chi.NewRouter()
	router.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	router.Get("/api/v1/catalog/{category}/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/catalog/tea/green/page-2/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/catalog/{category}/*", "204")); got != 1 {
		t.Fatalf("expected route counter to be 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "unmatched", "404")); got != 1 {
		t.Fatalf("expected unmatched counter to be 1, got %v", got)
	}
	if samples := testutil.CollectAndCount(metrics.ReqDur); samples == 0 {
		t.Fatalf("expected histogram sample")
	}
	if val := testutil.ToFloat64(metrics.InFlight); val != 0 {
		t.Fatalf("expected no in-flight requests, got %v", val)
	}

	again := obs.NewHTTPMetrics("eushop", nil, registry)
	if again.ReqTotal != metrics.ReqTotal {
		t.Fatalf("expected second registration to reuse collectors")
	}
}

func TestRequestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	router := chi.NewRouter()
	router.Use(obs.RequestLogger{Logger: zerolog.New(&buf), CountryHeader: "X-Country"}.Middleware)
	router.Get("/api/v1/carts/{cartID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/api/v1/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/carts/c-42", nil)
	req.Header.Set("X-Country", "EE")
	router.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"cart_id":"c-42"`, `"ip_country":"EE"`, `"route":"/api/v1/carts/{cartID}"`, `"level":"info"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in log line, got %s", want, out)
		}
	}

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/7", nil))
	out = buf.String()
	if !strings.Contains(out, `"order_id":"7"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected order id at warn level, got %s", out)
	}
}

func TestParseBucketsCSV(t *testing.T) {
	got := obs.ParseBucketsCSV(" 50, 5,x,-1, 5 ,10")
	want := []float64{5, 10, 50}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}
	if obs.ParseBucketsCSV("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("eushop", registry)
	obs.MustRegisterDomainMetrics("eushop", registry)

	obs.Count(obs.CatalogRequestsTotal, "page")
	if got := testutil.ToFloat64(obs.CatalogRequestsTotal.WithLabelValues("page")); got < 1 {
		t.Fatalf("expected catalog counter to be incremented, got %v", got)
	}
}
