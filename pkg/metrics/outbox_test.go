package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutboxMetricsCountsByEventType(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)

	m.Published("payment.finalized", 2*time.Second)
	m.Published("payment.finalized", 0)
	m.Failed("purchase.recorded")
	m.Dead("purchase.recorded", "max_attempts")

	if got := testutil.ToFloat64(m.published.WithLabelValues("payment.finalized")); got != 2 {
		t.Fatalf("expected 2 published, got %f", got)
	}
	if got := testutil.ToFloat64(m.failed.WithLabelValues("purchase.recorded")); got != 1 {
		t.Fatalf("expected 1 failure, got %f", got)
	}
	if got := testutil.ToFloat64(m.dead.WithLabelValues("purchase.recorded", "max_attempts")); got != 1 {
		t.Fatalf("expected 1 dead, got %f", got)
	}
	if got := testutil.CollectAndCount(m.lag); got != 1 {
		t.Fatalf("expected lag histogram exported, got %d series", got)
	}
}

func TestNilOutboxMetricsIsNoop(t *testing.T) {
	var m *OutboxMetrics
	m.Published("x", time.Second)
	m.Failed("x")
	NewOutboxMetrics(nil).Dead("x", "y")
}
