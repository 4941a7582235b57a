package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fixora-backend/internal/bootstrap"
	"github.com/angelmondragon/fixora-backend/internal/cron"
	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/instance"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/metrics"
	"github.com/angelmondragon/fixora-backend/pkg/migrate"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
	"github.com/angelmondragon/fixora-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single sweep cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg, *once); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	_, gw, err := bootstrap.Gateway(ctx, cfg, logg, settlementMetrics)
	if err != nil {
		return fmt.Errorf("bootstrap payment gateway: %w", err)
	}
	svcs, err := bootstrap.NewServices(cfg, logg, dbClient, gw, settlementMetrics)
	if err != nil {
		return fmt.Errorf("build settlement services: %w", err)
	}

	registry, err := sweeps(cfg, logg, dbClient, svcs)
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind, envOrLocal(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("create cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("create cron service: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.ID(),
		"serviceKind": serviceKind,
		"jobs":        len(registry.Jobs()),
		"interval":    cfg.Cron.Interval.String(),
		"once":        once,
	})
	logg.Info(ctx, "cron.worker_started")
	defer logg.Info(ctx, "cron.worker_stopped")

	if once {
		return service.RunOnce(ctx)
	}
	return service.Run(ctx)
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

// sweeps lists the settlement jobs in the order they run each cycle.
func sweeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svcs *bootstrap.Services) (*cron.Registry, error) {
	authorizationExpiry, err := cron.NewAuthorizationExpiryJob(cron.AuthorizationExpiryJobParams{
		Logger:    logg,
		Payments:  svcs.Payments,
		OrderTTL:  cfg.Escrow.OrderTTL,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	completionExpiry, err := cron.NewCompletionExpiryJob(cron.CompletionExpiryJobParams{
		Logger:     logg,
		Completion: svcs.Completion,
		BatchSize:  cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	payoutReconcile, err := cron.NewPayoutReconcileJob(cron.PayoutReconcileJobParams{
		Logger:    logg,
		Payouts:   svcs.Payouts,
		MinAge:    cfg.Cron.PayoutReconcileAge,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:              logg,
		DB:                  dbClient,
		Outbox:              outbox.NewRepository(dbClient.DB()),
		DeadLetters:         outbox.NewDLQRepository(dbClient.DB()),
		Retention:           cfg.Cron.OutboxRetention,
		DeadLetterRetention: cfg.Cron.DLQRetention,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(authorizationExpiry, completionExpiry, payoutReconcile, outboxRetention)
}
