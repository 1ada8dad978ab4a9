// Package app builds the shared infrastructure used by the api, worker and
// migrate binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/backend-eushop/internal/config"
	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/migrations"
)

// NewPool connects to Postgres with query tracing and verifies the connection.
func NewPool(ctx context.Context, cfg *config.Config, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis connects to Redis with tracing and, optionally, client metrics.
func NewRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.PrometheusEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TaskRedis returns the asynq connection options for REDIS_URL.
func TaskRedis(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for tasks: %w", err)
	}
	return opt, nil
}

// InitTracing installs the global tracer provider when an OTLP endpoint is
// configured. The returned func flushes spans and is never nil.
func InitTracing(ctx context.Context, cfg *config.Config, logger zerolog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   cfg.ServiceName,
		Endpoint:      cfg.OTLPEndpoint,
		SamplingRatio: cfg.OTelSamplerRatio,
		Environment:   cfg.AppEnv,
		Attributes: map[string]string{
			"eushop.merchant_country": cfg.MerchantCountry,
			"eushop.vat_mode":         cfg.VATMode,
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}
}

// InitMeters creates the domain counters on the global meter provider, which
// forwards to an SDK provider once one is installed.
func InitMeters(name string, logger zerolog.Logger) {
	if err := obs.InitDomainMeters(otel.Meter(name)); err != nil {
		logger.Error().Err(err).Msg("initialise domain meters")
	}
}

// MigrationURL rewrites a postgres DSN to the scheme the pgx/v5 migrate driver registers.
func MigrationURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// NewMigrator reads the embedded schema.
func NewMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrationURL(dsn))
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

// RunMigrations applies pending up migrations; no change is not an error.
func RunMigrations(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
