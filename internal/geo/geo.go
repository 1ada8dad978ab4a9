// Package geo guesses the buyer's country from the request. Lookups never
// fail outward: anything unknown is "".
package geo

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/obs"
)

// Locator maps a request to an upper-case ISO2 code or "".
type Locator interface {
	CountryCode(r *http.Request) string
}

// DefaultHeader is set by Cloudflare in front of the API.
const DefaultHeader = "CF-IPCountry"

func normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return ""
	}
	// XX unknown, T1 Tor
	if code == "XX" {
		return ""
	}
	return code
}

// HeaderLocator reads the country an edge proxy already resolved.
type HeaderLocator struct {
	Header string
}

func (h HeaderLocator) CountryCode(r *http.Request) string {
	if r == nil {
		return ""
	}
	name := h.Header
	if name == "" {
		name = DefaultHeader
	}
	code := normalize(r.Header.Get(name))
	obs.Count(obs.GeoLookupTotal, "header", resultOf(code))
	return code
}

// Static always answers with the same code. Used in development.
type Static string

func (s Static) CountryCode(*http.Request) string { return normalize(string(s)) }

// Chain asks each locator in turn and keeps the first answer.
type Chain []Locator

func (c Chain) CountryCode(r *http.Request) string {
	for _, l := range c {
		if l == nil {
			continue
		}
		if code := l.CountryCode(r); code != "" {
			return code
		}
	}
	return ""
}

// Fetcher performs JSON GETs; resilience.Client satisfies it.
type Fetcher interface {
	GetJSON(ctx context.Context, url string, out any) error
}

// HTTPLocator asks a lookup service about the client IP. URL holds an
// "{ip}" placeholder; without one the IP is appended as a path segment.
// Answers are cached in Redis when Cache is set.
type HTTPLocator struct {
	Client   Fetcher
	URL      string
	Cache    *redis.Client
	CacheTTL time.Duration
	Timeout  time.Duration
	Logger   zerolog.Logger
}

type lookupResponse struct {
	CountryCode  string `json:"country_code"`
	CountryCode2 string `json:"countryCode"`
	Country      string `json:"country"`
}

func (l HTTPLocator) CountryCode(r *http.Request) string {
	if r == nil || l.Client == nil || l.URL == "" {
		return ""
	}
	ip := net.ParseIP(common.ClientIP(r))
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		obs.Count(obs.GeoLookupTotal, "http", "skipped")
		return ""
	}
	ctx := r.Context()
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}
	key := "geo:" + ip.String()
	if l.Cache != nil {
		if cached, err := l.Cache.Get(ctx, key).Result(); err == nil {
			obs.Count(obs.GeoLookupTotal, "cache", resultOf(cached))
			return normalize(cached)
		}
	}
	var resp lookupResponse
	if err := l.Client.GetJSON(ctx, l.lookupURL(ip.String()), &resp); err != nil {
		l.Logger.Warn().Err(err).Str("ip", ip.String()).Msg("geo lookup failed")
		obs.Count(obs.GeoLookupTotal, "http", "error")
		return ""
	}
	code := normalize(firstNonEmpty(resp.CountryCode, resp.CountryCode2, resp.Country))
	if l.Cache != nil {
		ttl := l.CacheTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		// Misses are cached too, as "".
		_ = l.Cache.Set(ctx, key, code, ttl).Err()
	}
	obs.Count(obs.GeoLookupTotal, "http", resultOf(code))
	return code
}

func (l HTTPLocator) lookupURL(ip string) string {
	escaped := url.PathEscape(ip)
	if strings.Contains(l.URL, "{ip}") {
		return strings.ReplaceAll(l.URL, "{ip}", escaped)
	}
	return strings.TrimRight(l.URL, "/") + "/" + escaped
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func resultOf(code string) string {
	if code == "" {
		return "miss"
	}
	return "hit"
}
