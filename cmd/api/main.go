package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/lestrrat-go/jwx/v2/jwa"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-eushop/internal/app"
	"github.com/noah-isme/backend-eushop/internal/auth"
	"github.com/noah-isme/backend-eushop/internal/cart"
	"github.com/noah-isme/backend-eushop/internal/catalog"
	"github.com/noah-isme/backend-eushop/internal/checkout"
	"github.com/noah-isme/backend-eushop/internal/common"
	"github.com/noah-isme/backend-eushop/internal/config"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/geo"
	"github.com/noah-isme/backend-eushop/internal/health"
	"github.com/noah-isme/backend-eushop/internal/lock"
	"github.com/noah-isme/backend-eushop/internal/notify"
	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/internal/order"
	"github.com/noah-isme/backend-eushop/internal/payment"
	"github.com/noah-isme/backend-eushop/internal/ratelimit"
	"github.com/noah-isme/backend-eushop/internal/repo"
	"github.com/noah-isme/backend-eushop/internal/resilience"
	"github.com/noah-isme/backend-eushop/internal/vat"
)

const metricsNamespace = "eushop"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PrometheusEnabled {
		obs.MustRegisterDomainMetrics(metricsNamespace, nil)
		resilience.RegisterMetrics(nil)
	}
	shutdownTracing := app.InitTracing(ctx, cfg, logger)
	defer shutdownTracing()
	app.InitMeters("github.com/noah-isme/backend-eushop", logger)

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := app.NewPool(startCtx, cfg, "eushop-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	rdb, err := app.NewRedis(startCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	taskRedis, err := app.TaskRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("task queue")
	}
	tasks := asynq.NewClient(taskRedis)
	defer func() {
		if err := tasks.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()
	notifications := notify.Queue{Client: tasks}

	countries := repo.CountryStore{DB: pool}
	deliveries := repo.DeliveryStore{DB: pool}
	carts := repo.CartStore{DB: pool}
	merchant := vat.Merchant{Country: cfg.MerchantCountry, VAT: cfg.MerchantVAT}
	policy := vat.PolicyFor(cfg.VATMode, merchant)

	rates := vat.Guesser{
		Countries: countries,
		Locator:   locator(cfg, rdb, logger),
		Policy:    policy,
		Merchant:  merchant,
		Logger:    logger.With().Str("component", "vat").Logger(),
	}

	engine := catalog.NewEngine(
		repo.CatalogStore{DB: pool},
		catalog.NewCache(rdb, cfg.Catalog.CacheTTL),
		catalog.Config{PageSize: cfg.Catalog.PageSize, Counts: cfg.Catalog.FacetCounts, Parallel: cfg.Catalog.FacetParallel},
		logger.With().Str("component", "catalog").Logger(),
	)

	cartSvc, err := cart.NewService(cart.ServiceConfig{
		Store:        carts,
		Catalog:      carts,
		Promos:       repo.PromoStore{DB: pool},
		Delivery:     deliveries,
		MerchantVAT:  cfg.MerchantVAT,
		PromoEnabled: cfg.PromoEnabled,
		Logger:       logger.With().Str("component", "cart").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise cart service")
	}

	payments := payment.NewRegistry(
		payment.BankTransfer{SuccessURL: cfg.Payment.SuccessURL, Beneficiary: cfg.Payment.BankBeneficiary, IBAN: cfg.Payment.BankIBAN},
		gateway(cfg),
	)

	checkoutSvc, err := checkout.NewService(checkout.Config{
		Tx:               repo.Transactor{DB: pool},
		Carts:            cartSvc,
		Payments:         payments,
		Policy:           policy,
		Locker:           lock.Locker{R: rdb},
		LockTTL:          cfg.CheckoutLockTTL,
		Notifier:         notifications,
		DeliveryRequired: cfg.DeliveryRequired,
		Logger:           logger.With().Str("component", "checkout").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise checkout service")
	}

	orderSvc, err := order.NewService(order.ServiceConfig{
		Store:    repo.OrderStore{DB: pool},
		Notifier: notifications,
		Logger:   logger.With().Str("component", "order").Logger(),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise order service")
	}

	checkoutRate, err := ratelimit.NewFixed(rdb, "rl", cfg.RateLimitCheckout)
	if err != nil {
		logger.Fatal().Err(err).Msg("RATE_LIMIT_CHECKOUT")
	}
	onLimiterError := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }

	authMW := auth.Middleware{Verifier: auth.Verifier{
		Secret: []byte(cfg.Auth.JWTSecret),
		Validator: auth.TokenValidator{
			Issuer:    cfg.Auth.JWTIssuer,
			Audience:  cfg.Auth.JWTAudience,
			ClockSkew: cfg.Auth.ClockSkew,
			Algorithm: jwa.HS256,
		},
	}}

	router := newRouter(cfg, logger, routes{
		health:   health.Handler{Probes: []health.Probe{health.Postgres(pool), health.Redis(rdb)}},
		catalog:  catalog.NewHandler(catalog.HandlerConfig{Engine: engine, Rates: rates, Prefix: catalogPrefix}),
		vat:      vat.Handler{Countries: countries, Rates: rates},
		delivery: delivery.Handler{Store: deliveries, Tasks: tasks},
		cart:     &cart.Handler{Svc: cartSvc, Rates: rates},
		checkout: &checkout.Handler{Svc: checkoutSvc},
		orders:   &order.Handler{Svc: orderSvc},
		admin:    &order.AdminHandler{Svc: orderSvc},
		webhook: payment.Webhook{
			Providers: payments,
			Orders:    orderSvc,
			Replay:    rdb,
			ReplayTTL: cfg.IdempotencyTTL,
			Logger:    logger.With().Str("component", "payment").Logger(),
		},
		idem:          common.Idem{R: rdb, TTL: cfg.IdempotencyTTL},
		checkoutLimit: ratelimit.Handler{Scope: "checkout", Limiter: checkoutRate, Key: ratelimit.ByClientIP, OnError: onLimiterError},
		promoLimit:    ratelimit.Handler{Scope: "promo", Limiter: checkoutRate, Key: ratelimit.ByClientIP, OnError: onLimiterError},
		notifyLimit: ratelimit.Handler{
			Scope:   "notify",
			Limiter: ratelimit.Sliding{Client: rdb, Prefix: "rl:", Window: time.Minute, Max: 120},
			Key:     ratelimit.ByClientIP,
			OnError: onLimiterError,
		},
		auth: authMW,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("vat_mode", cfg.VATMode).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func gateway(cfg *config.Config) payment.Provider {
	return payment.SignedGateway{
		Method:    "card",
		BaseURL:   cfg.Payment.GatewayURL,
		Merchant:  cfg.Payment.GatewayMerchant,
		Secret:    cfg.Payment.GatewaySecret,
		ReturnURL: cfg.Payment.SuccessURL,
	}
}

// locator trusts the edge header first, then the lookup service. Development
// builds may pin a country so VAT can be exercised from localhost.
func locator(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) geo.Chain {
	chain := geo.Chain{geo.HeaderLocator{Header: cfg.GeoIPHeader}}
	if cfg.GeoIPURL != "" {
		chain = append(chain, geo.HTTPLocator{
			Client: resilience.Client{
				HTTP:        resilience.NewHTTPClient(2 * time.Second),
				Breaker:     resilience.NewBreaker("geoip", 5, 30*time.Second, logger),
				MaxAttempts: 2,
				BaseBackoff: 100 * time.Millisecond,
			},
			URL:      cfg.GeoIPURL,
			Cache:    rdb,
			CacheTTL: 24 * time.Hour,
			Timeout:  time.Second,
			Logger:   logger.With().Str("component", "geo").Logger(),
		})
	}
	if cfg.IsDevelopment() && cfg.GeoIPDebugCountry != "" {
		chain = append(chain, geo.Static(cfg.GeoIPDebugCountry))
	}
	return chain
}
