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
	"go.uber.org/multierr"

	"github.com/angelmondragon/payrecon/internal/analytics/router"
	"github.com/angelmondragon/payrecon/internal/analytics/types"
	"github.com/angelmondragon/payrecon/internal/analytics/worker"
	"github.com/angelmondragon/payrecon/internal/analytics/writer"
	"github.com/angelmondragon/payrecon/pkg/bigquery"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox/idempotency"
	"github.com/angelmondragon/payrecon/pkg/pubsub"
	"github.com/angelmondragon/payrecon/pkg/redis"
)

const serviceKind = "analytics-worker"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.New(logger.Options{ServiceName: serviceKind}).Error(context.Background(), "analytics worker exited", err)
		stop()
		os.Exit(1)
	}
}

// run wires Pub/Sub, the delivery ledger and the BigQuery writer, then
// consumes billing events until ctx is canceled.
func run(ctx context.Context) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Service.Kind = serviceKind
	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	var closers []namedCloser
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i].Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close %s: %w", closers[i].name, cerr))
			}
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	closers = append(closers, namedCloser{"redis", redisClient})

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, pubsub.RequireAnalyticsSubscription)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}
	closers = append(closers, namedCloser{"pubsub", pubsubClient})

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, bigquery.TableSpec{
		Name:           cfg.BigQuery.BillingEventsTable,
		Schema:         types.BillingEventSchema(),
		PartitionField: types.BillingEventsPartitionField,
	})
	if err != nil {
		return fmt.Errorf("bigquery: %w", err)
	}
	closers = append(closers, namedCloser{"bigquery", bqClient})

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}

	ledger, err := idempotency.NewLedger(redisClient, worker.ConsumerName, cfg.Outbox.IdempotencyTTL)
	if err != nil {
		return fmt.Errorf("delivery ledger: %w", err)
	}
	rows, err := writer.New(bqClient, writer.Config{BillingEventsTable: bqClient.BillingEventsTable()})
	if err != nil {
		return fmt.Errorf("billing events writer: %w", err)
	}
	routes, err := router.NewRouter(rows, logg, nil)
	if err != nil {
		return fmt.Errorf("analytics router: %w", err)
	}
	service, err := worker.NewService(subscription, routes, ledger, logg)
	if err != nil {
		return fmt.Errorf("analytics worker: %w", err)
	}

	runCtx := logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"service_kind": cfg.Service.Kind,
		"subscription": cfg.PubSub.AnalyticsSubscription,
	})
	logg.Info(runCtx, "billing analytics worker ready")

	runErr := service.Run(runCtx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	// rows buffered below the batch size are written before exit
	if flushErr := rows.Flush(context.WithoutCancel(runCtx)); flushErr != nil {
		runErr = multierr.Append(runErr, fmt.Errorf("flush billing rows: %w", flushErr))
	}
	if runErr != nil {
		return runErr
	}
	logg.Info(runCtx, "billing analytics worker stopped")
	return nil
}

type namedCloser struct {
	name string
	io.Closer
}
