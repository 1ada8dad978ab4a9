package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-eushop/internal/obs"
)

// VAT modes.
const (
	VATModeOSS     = "oss"
	VATModeCountry = "country"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string

	MerchantCountry string
	MerchantVAT     decimal.Decimal
	VATMode         string

	Catalog CatalogConfig

	PromoEnabled     bool
	DeliveryRequired bool

	GeoIPHeader       string
	GeoIPURL          string
	GeoIPDebugCountry string

	Auth AuthConfig

	Payment PaymentConfig

	RateLimitCheckout string
	CheckoutLockTTL   time.Duration
	IdempotencyTTL    time.Duration

	SMTP SMTPConfig

	OTLPEndpoint      string
	OTelSamplerRatio  float64
	ServiceName       string
	PrometheusEnabled bool
	// MetricsBucketsMS overrides the request latency histogram buckets.
	MetricsBucketsMS []float64
}

// CatalogConfig tunes the listing engine.
type CatalogConfig struct {
	PageSize      int
	FacetCounts   bool
	FacetParallel bool
	CacheTTL      time.Duration
}

// AuthConfig describes how host-issued bearer tokens are verified.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	ClockSkew   time.Duration
}

// PaymentConfig configures the bundled payment providers.
type PaymentConfig struct {
	SuccessURL      string
	GatewayURL      string
	GatewayMerchant string
	GatewaySecret   string
	BankBeneficiary string
	BankIBAN        string
}

// SMTPConfig configures outgoing mail.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	p := parser{k: k}
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		MerchantCountry: strings.ToUpper(valueOrDefault(k.String("MERCHANT_COUNTRY"), "LV")),
		MerchantVAT:     p.decimal("MERCHANT_VAT", "0.21"),
		VATMode:         strings.ToLower(valueOrDefault(k.String("VAT_MODE"), VATModeOSS)),

		Catalog: CatalogConfig{
			PageSize:      p.int("CATALOG_PAGE_SIZE", 24),
			FacetCounts:   p.bool("CATALOG_FACET_COUNTS", true),
			FacetParallel: p.bool("CATALOG_FACET_PARALLEL", false),
			CacheTTL:      p.duration("CATALOG_CACHE_TTL", "5m"),
		},

		PromoEnabled:     p.bool("PROMO_ENABLED", true),
		DeliveryRequired: p.bool("DELIVERY_REQUIRED", true),

		GeoIPHeader:       valueOrDefault(k.String("GEOIP_HEADER"), "CF-IPCountry"),
		GeoIPURL:          strings.TrimSpace(k.String("GEOIP_URL")),
		GeoIPDebugCountry: strings.ToUpper(strings.TrimSpace(k.String("GEOIP_DEBUG_COUNTRY"))),

		Auth: AuthConfig{
			JWTSecret:   k.String("AUTH_JWT_SECRET"),
			JWTIssuer:   strings.TrimSpace(k.String("AUTH_JWT_ISSUER")),
			JWTAudience: strings.TrimSpace(k.String("AUTH_JWT_AUDIENCE")),
			ClockSkew:   p.duration("AUTH_CLOCK_SKEW", "30s"),
		},

		Payment: PaymentConfig{
			SuccessURL:      strings.TrimSpace(k.String("PAYMENT_SUCCESS_URL")),
			GatewayURL:      strings.TrimSpace(k.String("PAYMENT_GATEWAY_URL")),
			GatewayMerchant: k.String("PAYMENT_GATEWAY_MERCHANT"),
			GatewaySecret:   k.String("PAYMENT_GATEWAY_SECRET"),
			BankBeneficiary: k.String("PAYMENT_BANK_BENEFICIARY"),
			BankIBAN:        strings.ReplaceAll(k.String("PAYMENT_BANK_IBAN"), " ", ""),
		},

		RateLimitCheckout: valueOrDefault(k.String("RATE_LIMIT_CHECKOUT"), "10-M"),
		CheckoutLockTTL:   p.duration("CHECKOUT_LOCK_TTL", "30s"),
		IdempotencyTTL:    p.duration("IDEMPOTENCY_TTL", "24h"),

		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(k.String("SMTP_HOST")),
			Port:     p.int("SMTP_PORT", 25),
			From:     strings.TrimSpace(k.String("SMTP_FROM")),
			Username: k.String("SMTP_USERNAME"),
			Password: k.String("SMTP_PASSWORD"),
		},

		OTLPEndpoint:      strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTelSamplerRatio:  p.float("OTEL_SAMPLER_RATIO", 1),
		ServiceName:       valueOrDefault(k.String("SERVICE_NAME"), "eushop-api"),
		PrometheusEnabled: p.bool("PROMETHEUS_ENABLED", true),
		MetricsBucketsMS:  obs.ParseBucketsCSV(k.String("METRICS_BUCKETS_MS")),
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if len(cfg.MerchantCountry) != 2 {
		return nil, fmt.Errorf("MERCHANT_COUNTRY: %q is not an ISO 3166-1 alpha-2 code", cfg.MerchantCountry)
	}
	if cfg.MerchantVAT.IsNegative() || cfg.MerchantVAT.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("MERCHANT_VAT: %s must be a fraction in [0, 1)", cfg.MerchantVAT)
	}
	if cfg.VATMode != VATModeOSS && cfg.VATMode != VATModeCountry {
		return nil, fmt.Errorf("VAT_MODE: %q must be %q or %q", cfg.VATMode, VATModeOSS, VATModeCountry)
	}
	if cfg.Catalog.PageSize <= 0 {
		return nil, fmt.Errorf("CATALOG_PAGE_SIZE: %d must be positive", cfg.Catalog.PageSize)
	}
	if cfg.OTelSamplerRatio < 0 || cfg.OTelSamplerRatio > 1 {
		return nil, fmt.Errorf("OTEL_SAMPLER_RATIO: %v must be within [0, 1]", cfg.OTelSamplerRatio)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsDevelopment reports whether debug helpers such as GEOIP_DEBUG_COUNTRY apply.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// parser keeps the first invalid key so Load can fail with it.
type parser struct {
	k   *koanf.Koanf
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: invalid value %q: %w", key, value, err)
	}
}

func (p *parser) raw(key string) string {
	return strings.TrimSpace(p.k.String(key))
}

func (p *parser) int(key string, fallback int) int {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	v := p.raw(key)
	if v == "" {
		return fallback
	}
	b, ok := parseBool(v)
	if !ok {
		p.fail(key, v, errors.New("expected a boolean"))
		return fallback
	}
	return b
}

func (p *parser) duration(key, fallback string) time.Duration {
	v := p.raw(key)
	if v == "" {
		v = fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func (p *parser) decimal(key, fallback string) decimal.Decimal {
	v := valueOrDefault(p.raw(key), fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, v, err)
		return decimal.RequireFromString(fallback)
	}
	return d
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
