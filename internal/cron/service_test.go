package cron

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeLock struct {
	held     bool
	releases int
	err      error
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestServiceRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	renewal := &testJob{name: "subscription-renewal", err: errors.New("boom")}
	pending := &testJob{name: "pending-payment-reconcile"}
	lock := &fakeLock{}
	service := newTestService(t, lock, renewal, pending)

	err := service.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "subscription-renewal: boom") {
		t.Fatalf("expected the renewal failure to be reported, got %v", err)
	}
	if renewal.runs != 1 || pending.runs != 1 {
		t.Fatalf("expected each job to run once, got %d and %d", renewal.runs, pending.runs)
	}
	if lock.held || lock.releases != 1 {
		t.Fatalf("expected lock to be released once, held=%v releases=%d", lock.held, lock.releases)
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "subscription-renewal"}
	lock := &fakeLock{held: true}
	service := newTestService(t, lock, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job not to run while another replica holds the lock")
	}
	if lock.releases != 0 {
		t.Fatalf("lock released without being acquired")
	}
}

func TestServiceLockErrorIsReturned(t *testing.T) {
	job := &testJob{name: "subscription-renewal"}
	service := newTestService(t, &fakeLock{err: errors.New("redis down")}, job)

	if err := service.RunOnce(context.Background()); err == nil {
		t.Fatal("expected lock error")
	}
	if job.runs != 0 {
		t.Fatalf("job ran without the lock")
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test"})}); err == nil {
		t.Fatal("expected error without lock")
	}
}

type blockingJob struct{ deadline bool }

func (b *blockingJob) Name() string { return "pending-payment-reconcile" }

func (b *blockingJob) Run(ctx context.Context) error {
	_, b.deadline = ctx.Deadline()
	return nil
}

func TestServiceBoundsEachJobWithTimeout(t *testing.T) {
	job := &blockingJob{}
	service, err := NewService(ServiceParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry:   NewRegistry(job),
		Lock:       &fakeLock{},
		JobTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !job.deadline {
		t.Fatal("expected job context to carry a deadline")
	}
}

func TestServiceStopsCycleOnCanceledContext(t *testing.T) {
	first := &testJob{name: "subscription-renewal"}
	lock := &fakeLock{}
	service := newTestService(t, lock, first)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := service.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if first.runs != 0 {
		t.Fatal("job ran after cancellation")
	}
	if lock.releases != 1 {
		t.Fatalf("expected lock released after cancellation, got %d", lock.releases)
	}
}

func TestNextRunDelayAlignsToRunHour(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		name     string
		now      time.Time
		hour     int
		interval time.Duration
		want     time.Duration
	}{
		{"before hour", time.Date(2026, 5, 15, 5, 0, 0, 0, time.UTC), 6, day, time.Hour},
		{"at hour", time.Date(2026, 5, 15, 6, 0, 0, 0, time.UTC), 6, day, 0},
		{"after hour", time.Date(2026, 5, 15, 7, 30, 0, 0, time.UTC), 6, day, 22*time.Hour + 30*time.Minute},
		{"month end", time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC), 6, day, 7 * time.Hour},
		{"midnight", time.Date(2026, 5, 15, 18, 0, 0, 0, time.UTC), 0, day, 6 * time.Hour},
		{"six hour slots", time.Date(2026, 5, 15, 7, 30, 0, 0, time.UTC), 6, 6 * time.Hour, 4*time.Hour + 30*time.Minute},
		{"non utc clock", time.Date(2026, 5, 15, 0, 30, 0, 0, time.FixedZone("COT", -5*3600)), 6, day, 30 * time.Minute},
	}
	for _, tc := range cases {
		if got := nextRunDelay(tc.now, tc.hour, tc.interval); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestNewServiceRejectsRunHourPastMidnight(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger:  logger.New(logger.Options{ServiceName: "cron-test"}),
		Lock:    &fakeLock{},
		RunHour: 24,
	})
	if err == nil {
		t.Fatal("expected run hour error")
	}
}

type cancelingJob struct {
	cancel context.CancelFunc
	runs   int
}

func (c *cancelingJob) Name() string { return "subscription-renewal" }

func (c *cancelingJob) Run(context.Context) error {
	c.runs++
	c.cancel()
	return nil
}

func TestServiceRunWaitsForRunHour(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := &cancelingJob{cancel: cancel}
	start := time.Date(2026, 5, 15, 6, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return start.Add(time.Duration(calls-1) * time.Second)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		RunHour:  6,
		Now:      clock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if job.runs != 1 {
		t.Fatalf("expected one cycle at the run hour, got %d", job.runs)
	}
}
