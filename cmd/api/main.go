package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fixora-backend/api/routes"
	"github.com/angelmondragon/fixora-backend/internal/bootstrap"
	stripewebhook "github.com/angelmondragon/fixora-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/instance"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/metrics"
	"github.com/angelmondragon/fixora-backend/pkg/migrate"
	"github.com/angelmondragon/fixora-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/fixora-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	stripeClient, gw, err := bootstrap.Gateway(context.Background(), cfg, logg, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payment gateway", err)
		os.Exit(1)
	}

	svcs, err := bootstrap.NewServices(cfg, logg, dbClient, gw, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to build settlement services", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders: svcs.Payments,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	processed, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency manager", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Deps{
		Config:             cfg,
		Logger:             logg,
		DB:                 dbClient,
		Redis:              redisClient,
		Idempotency:        redisClient,
		RateLimiter:        redisClient,
		Metrics:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HTTPMetrics:        metrics.NewHTTPMetrics(registry),
		Payments:           svcs.Payments,
		Completion:         svcs.Completion,
		Refunds:            svcs.Refunds,
		Payouts:            svcs.Payouts,
		StripeWebhooks:     webhookService,
		StripeClient:       stripeClient,
		StripeWebhookGuard: processed.Scope("stripe-webhook"),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID(),
		"addr":     addr,
		"gateway":  cfg.Gateway.Provider,
		"currency": cfg.Gateway.Currency,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server stopped")
	}
}
