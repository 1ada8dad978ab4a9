package geo_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-eushop/internal/geo"
	"github.com/noah-isme/backend-eushop/internal/resilience"
)

func request(remote string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/catalog/boots", nil)
	r.RemoteAddr = remote
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestHeaderLocator(t *testing.T) {
	tests := map[string]string{
		"lv":  "LV",
		" EE": "EE",
		"XX":  "",
		"T1":  "",
		"LVA": "",
		"":    "",
	}
	for in, want := range tests {
		r := request("10.0.0.1:1234", map[string]string{geo.DefaultHeader: in})
		require.Equal(t, want, geo.HeaderLocator{}.CountryCode(r), in)
	}
	r := request("10.0.0.1:1234", map[string]string{"X-Country": "lt"})
	require.Equal(t, "LT", geo.HeaderLocator{Header: "X-Country"}.CountryCode(r))
}

func TestChainFallsThrough(t *testing.T) {
	chain := geo.Chain{geo.HeaderLocator{}, nil, geo.Static("de")}
	require.Equal(t, "DE", chain.CountryCode(request("10.0.0.1:1", nil)))
	require.Equal(t, "FI", chain.CountryCode(request("10.0.0.1:1", map[string]string{geo.DefaultHeader: "FI"})))
	require.Equal(t, "", geo.Chain{}.CountryCode(request("10.0.0.1:1", nil)))
}

func TestHTTPLocatorCachesAnswers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/json/81.198.1.1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"81.198.1.1","country_code":"lv"}`))
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := geo.HTTPLocator{
		Client:   resilience.Client{HTTP: srv.Client(), MaxAttempts: 1},
		URL:      srv.URL + "/json/{ip}",
		Cache:    rdb,
		CacheTTL: time.Hour,
	}
	r := request("81.198.1.1:5555", nil)
	require.Equal(t, "LV", l.CountryCode(r))
	require.Equal(t, "LV", l.CountryCode(r))
	require.Equal(t, int32(1), calls.Load())

	cached, err := rdb.Get(r.Context(), "geo:81.198.1.1").Result()
	require.NoError(t, err)
	require.Equal(t, "LV", cached)
}

func TestHTTPLocatorSkipsPrivateAndSurvivesErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	l := geo.HTTPLocator{Client: resilience.Client{HTTP: srv.Client(), MaxAttempts: 1}, URL: srv.URL}
	require.Equal(t, "", l.CountryCode(request("192.168.1.4:80", nil)))
	require.Equal(t, "", l.CountryCode(request("127.0.0.1:80", nil)))
	require.Equal(t, int32(0), calls.Load())

	require.Equal(t, "", l.CountryCode(request("81.198.1.1:80", nil)))
	require.Equal(t, int32(1), calls.Load())

	require.Equal(t, "", geo.HTTPLocator{}.CountryCode(request("81.198.1.1:80", nil)))
}
