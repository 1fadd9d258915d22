package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultOutboxDeadAfter = 10
	defaultPruneBatch      = 500
	maxPruneBatches        = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	PruneBefore(ctx context.Context, tx *gorm.DB, filter outbox.PruneFilter) (int64, error)
}

// OutboxRetentionJobParams configures pruning of delivered billing events.
type OutboxRetentionJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Outbox    outboxPruner
	Retention time.Duration
	// DeadAfter matches the publisher's attempt cap; rows at the cap are
	// never retried and are pruned with the published ones.
	DeadAfter int
	// BatchSize bounds the rows deleted per transaction.
	BatchSize int
	Now       func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		outbox:    params.Outbox,
		retention: orDefault(params.Retention, defaultOutboxRetention),
		deadAfter: orDefault(params.DeadAfter, defaultOutboxDeadAfter),
		batch:     orDefault(params.BatchSize, defaultPruneBatch),
		now:       params.Now,
	}
	if job.now == nil {
		job.now = time.Now
	}
	return job, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	outbox    outboxPruner
	retention time.Duration
	deadAfter int
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes expired rows one batch per transaction until a batch comes
// back short. The cutoff is fixed for the whole run.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	filter := outbox.PruneFilter{
		Cutoff:    j.now().UTC().Add(-j.retention),
		DeadAfter: j.deadAfter,
		Limit:     j.batch,
	}

	var pruned int64
	batches := 0
	for batches < maxPruneBatches {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("prune billing events after %d rows: %w", pruned, err)
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.outbox.PruneBefore(ctx, tx, filter)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("prune billing events after %d rows: %w", pruned, err)
		}
		batches++
		pruned += deleted
		if deleted < int64(j.batch) {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":      filter.Cutoff,
		"dead_after":  j.deadAfter,
		"batches":     batches,
		"rows_pruned": pruned,
	}), "billing event outbox pruned")
	return nil
}
