package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-eushop/internal/app"
	"github.com/noah-isme/backend-eushop/internal/config"
	"github.com/noah-isme/backend-eushop/internal/delivery"
	"github.com/noah-isme/backend-eushop/internal/notify"
	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/internal/repo"
	"github.com/noah-isme/backend-eushop/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PrometheusEnabled {
		obs.MustRegisterDomainMetrics("eushop", nil)
		resilience.RegisterMetrics(nil)
	}
	if cfg.ServiceName == "eushop-api" {
		cfg.ServiceName = "eushop-worker"
	}
	shutdownTracing := app.InitTracing(ctx, cfg, logger)
	defer shutdownTracing()

	pool, err := app.NewPool(ctx, cfg, "eushop-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("database")
	}
	defer pool.Close()

	rdb, err := app.NewRedis(ctx, cfg, logger)
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

	mailer, err := notify.NewMailer(notify.SMTPSender{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		From:     cfg.SMTP.From,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  10 * time.Second,
	}, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load mail templates")
	}

	mux := asynq.NewServeMux()
	mux.Handle(notify.TaskSend, notify.TaskHandler{
		Sender:  mailer,
		Sent:    rdb,
		SentTTL: 7 * 24 * time.Hour,
		Logger:  logger,
	})
	mux.Handle(delivery.TaskPickupSync, delivery.PickupSync{
		Fetcher: resilience.Client{
			HTTP:        resilience.NewHTTPClient(30 * time.Second),
			Breaker:     resilience.NewBreaker("pickup-feed", 3, time.Minute, logger),
			MaxAttempts: 3,
			BaseBackoff: 500 * time.Millisecond,
		},
		Store:  repo.DeliveryStore{DB: pool},
		Logger: logger.With().Str("task", delivery.TaskPickupSync).Logger(),
	})

	srv := asynq.NewServer(taskRedis, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			notify.QueueName: 6,
			"default":        4,
		},
		Logger:          asynqLogger{logger},
		ShutdownTimeout: 20 * time.Second,
	})

	logger.Info().Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// asynqLogger routes asynq's internal logs through zerolog.
type asynqLogger struct{ l zerolog.Logger }

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
