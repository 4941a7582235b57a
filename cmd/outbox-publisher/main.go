package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/instance"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/metrics"
	"github.com/angelmondragon/fixora-backend/pkg/migrate"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
	"github.com/angelmondragon/fixora-backend/pkg/outbox/registry"
	"github.com/angelmondragon/fixora-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	requeue := flag.String("requeue", "", "move a dead lettered event id back onto the outbox and exit")
	listDLQ := flag.Int("list-dlq", 0, "print the newest N dead letters and exit")
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

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	dlqRepo := outbox.NewDLQRepository(dbClient.DB())

	switch {
	case *requeue != "":
		err = requeueEvent(ctx, dlqRepo, *requeue)
	case *listDLQ > 0:
		err = printDeadLetters(ctx, dlqRepo, *listDLQ)
	default:
		err = publish(ctx, cfg, logg, dbClient, dlqRepo)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
}

func publish(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, dlqRepo *outbox.DLQRepository) error {
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build event registry: %w", err)
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewSettlementMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("create outbox publisher: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.ID(),
		"serviceKind": serviceKind,
		"topic":       cfg.PubSub.SettlementTopic,
	})
	logg.Info(ctx, "outbox.publisher_started")
	if err := service.Run(ctx); err != nil {
		return err
	}
	logg.Info(ctx, "outbox.publisher_stopped")
	return nil
}

func requeueEvent(ctx context.Context, repo *outbox.DLQRepository, raw string) error {
	eventID, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid event id %q: %w", raw, err)
	}
	if err := repo.Requeue(ctx, eventID); err != nil {
		return err
	}
	fmt.Printf("requeued %s\n", eventID)
	return nil
}

func printDeadLetters(ctx context.Context, repo *outbox.DLQRepository, limit int) error {
	rows, err := repo.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT ID\tTYPE\tREASON\tATTEMPTS\tFAILED AT")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", row.EventID, row.EventType, row.ErrorReason, row.AttemptCount, row.FailedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
