package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/internal/subscriptions"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
)

// subscriptionSweeper is satisfied by *subscriptions.Engine.
type subscriptionSweeper interface {
	Sweep(ctx context.Context, now time.Time) (*subscriptions.SweepResult, error)
}

// SubscriptionRenewalJobParams configures the daily renewal sweep.
type SubscriptionRenewalJobParams struct {
	Logger  *logger.Logger
	Sweeper subscriptionSweeper
	Now     func() time.Time
}

// NewSubscriptionRenewalJob builds the job that charges every due subscription
// and finalizes period-end cancellations.
func NewSubscriptionRenewalJob(params SubscriptionRenewalJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("subscription sweeper required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &subscriptionRenewalJob{
		logg:    params.Logger,
		sweeper: params.Sweeper,
		now:     now,
	}, nil
}

type subscriptionRenewalJob struct {
	logg    *logger.Logger
	sweeper subscriptionSweeper
	now     func() time.Time
}

func (j *subscriptionRenewalJob) Name() string { return "subscription-renewal" }

// Run sweeps once. Per-subscription failures are reported in the returned
// error after the whole batch has been attempted.
func (j *subscriptionRenewalJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	ctx = outbox.WithActor(ctx, outbox.ActorRef{Source: outbox.SourceScheduler})
	result, err := j.sweeper.Sweep(ctx, now)
	if result == nil {
		if err == nil {
			return nil
		}
		return fmt.Errorf("subscription sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":    now,
		"due":      result.Due,
		"renewed":  result.Renewed,
		"failed":   result.Failed,
		"pending":  result.Pending,
		"canceled": result.Canceled,
		"skipped":  result.Skipped,
	})
	if err != nil {
		j.logg.Warn(logCtx, "subscription sweep finished with errors")
		return fmt.Errorf("subscription sweep: %w", err)
	}
	j.logg.Info(logCtx, "subscription sweep complete")
	return nil
}
