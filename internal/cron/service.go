package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/multierr"

	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
)

const (
	defaultInterval   = 24 * time.Hour
	defaultJobTimeout = time.Hour
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// RunHour anchors cycles to that UTC hour, repeating every Interval.
	// A negative value runs the first cycle at once.
	RunHour int
	// JobTimeout bounds each job so one stuck gateway call cannot hold the
	// lock for the whole lease.
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service executes the registered billing jobs on a fixed cadence, one
// replica at a time.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	runHour    int
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.RunHour > 23 {
		return nil, fmt.Errorf("run hour %d out of range", params.RunHour)
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	jobTimeout := params.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		runHour:    params.RunHour,
		jobTimeout: jobTimeout,
		now:        now,
	}, nil
}

// RunOnce executes a single locked cycle and returns every job failure.
// It backs the worker's -once flag.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

// Run executes a cycle at every slot of the schedule until ctx is canceled.
// Cycle failures are logged; the loop keeps going.
func (s *Service) Run(ctx context.Context) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"interval": s.interval.String(),
		"run_hour": s.runHour,
		"jobs":     s.registry.Names(),
	}), "billing job loop started")

	first := true
	for {
		wait := s.interval
		switch {
		case s.runHour >= 0:
			wait = nextRunDelay(s.now(), s.runHour, s.interval)
		case first:
			wait = 0
		}
		first = false

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logg.Info(ctx, "billing job loop stopped")
			return ctx.Err()
		case <-timer.C:
		}
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "billing job cycle failed", err)
		}
	}
}

// nextRunDelay returns how long to wait for the next slot of a schedule that
// starts at hour:00 UTC and repeats every interval. A slot equal to now is
// due immediately.
func nextRunDelay(now time.Time, hour int, interval time.Duration) time.Duration {
	now = now.UTC()
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if anchor.After(now) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	next := anchor.Add(now.Sub(anchor) / interval * interval)
	if next.Before(now) {
		next = next.Add(interval)
	}
	return next.Sub(now)
}

func (s *Service) runCycle(ctx context.Context) error {
	ctx = s.logg.WithField(ctx, "cycle_id", ulid.Make().String())

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.CycleSkipped()
		s.logg.Info(ctx, "billing jobs held by another replica, skipping cycle")
		return nil
	}
	defer func() {
		// release must run even when ctx was canceled mid-cycle
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	var cycleErr error
	for _, job := range s.registry.Jobs() {
		if ctx.Err() != nil {
			cycleErr = multierr.Append(cycleErr, ctx.Err())
			break
		}
		if err := s.runJob(ctx, job); err != nil {
			cycleErr = multierr.Append(cycleErr, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return cycleErr
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := s.now()
	err := job.Run(runCtx)
	finished := s.now()
	took := finished.Sub(start)
	s.metrics.JobFinished(job.Name(), took, err, finished)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "billing job failed", err)
		return err
	}
	s.logg.Info(jobCtx, "billing job completed")
	return nil
}
