package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/threadline-backend/internal/analytics/router"
	"github.com/angelmondragon/threadline-backend/internal/analytics/worker"
	"github.com/angelmondragon/threadline-backend/internal/analytics/writer"
	"github.com/angelmondragon/threadline-backend/pkg/bigquery"
	"github.com/angelmondragon/threadline-backend/pkg/config"
	"github.com/angelmondragon/threadline-backend/pkg/instance"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/metrics"
	"github.com/angelmondragon/threadline-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/threadline-backend/pkg/pubsub"
	"github.com/angelmondragon/threadline-backend/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "analytics.config_invalid", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.IsDev(),
		Fields:      map[string]string{"env": cfg.App.Env},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"serviceKind": serviceKind,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "analytics.worker_failed", err)
		stop()
		os.Exit(1)
	}
}

// run owns every client it opens and closes them in reverse order on return.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	closers = append(closers, redisClient)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	closers = append(closers, pubsubClient)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	closers = append(closers, bqClient)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}

	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency guard: %w", err)
	}

	table := bqClient.OrderFactsTable()
	if err := bqClient.VerifyColumns(ctx, table, writer.OrderFactColumns); err != nil {
		return fmt.Errorf("order facts schema: %w", err)
	}
	facts, err := writer.New(bqClient, writer.Config{OrderFactsTable: table})
	if err != nil {
		return fmt.Errorf("order facts writer: %w", err)
	}
	handler, err := router.NewRouter(facts, logg, nil)
	if err != nil {
		return fmt.Errorf("analytics router: %w", err)
	}

	service, err := worker.NewService(worker.ServiceParams{
		Subscription: subscription,
		Handler:      handler,
		Guard:        guard,
		Logger:       logg,
		Metrics:      metrics.NewAnalyticsMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("analytics worker: %w", err)
	}

	logg.Info(ctx, "analytics.worker_ready")
	runErr := service.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	// Buffered rows are written even when the receive loop fails.
	if err := facts.Flush(context.WithoutCancel(ctx)); err != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("flush order facts: %w", err))
	}
	if runErr == nil {
		logg.Info(ctx, "analytics.worker_stopped")
	}
	return runErr
}
