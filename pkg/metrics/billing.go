package metrics

import (
	"strings"

	"github.com/angelmondragon/payrecon/pkg/money"
	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics counts payment, webhook and renewal outcomes.
type BillingMetrics struct {
	paymentsInitiated *prometheus.CounterVec
	paymentsFinalized *prometheus.CounterVec
	webhooks          *prometheus.CounterVec
	renewals          *prometheus.CounterVec
	revenue           *prometheus.CounterVec
}

// NewBillingMetrics registers the billing counters on reg. A nil registerer
// yields a no-op recorder.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	m := &BillingMetrics{
		paymentsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_initiated_total",
			Help:      "Payments created, by product type.",
		}, []string{"product_type"}),
		paymentsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_finalized_total",
			Help:      "Payments that reached a terminal status.",
		}, []string{"status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Gateway webhook deliveries by outcome.",
		}, []string{"outcome"}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_renewals_total",
			Help:      "Subscription renewal attempts by outcome.",
		}, []string{"outcome"}),
		revenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approved_revenue_total",
			Help:      "Approved payment volume in major currency units.",
		}, []string{"currency"}),
	}
	reg.MustRegister(m.paymentsInitiated, m.paymentsFinalized, m.webhooks, m.renewals, m.revenue)
	return m
}

func (m *BillingMetrics) PaymentInitiated(productType string) {
	if m == nil || m.paymentsInitiated == nil {
		return
	}
	m.paymentsInitiated.WithLabelValues(normalizeLabel(strings.ToLower(productType))).Inc()
}

func (m *BillingMetrics) PaymentFinalized(status string) {
	if m == nil || m.paymentsFinalized == nil {
		return
	}
	m.paymentsFinalized.WithLabelValues(normalizeLabel(strings.ToLower(status))).Inc()
}

// Webhook records a webhook outcome such as "applied", "duplicate", "ignored" or "rejected".
func (m *BillingMetrics) Webhook(outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// Renewal records a renewal outcome such as "approved", "failed", "skipped" or "canceled".
func (m *BillingMetrics) Renewal(outcome string) {
	if m == nil || m.renewals == nil {
		return
	}
	m.renewals.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// Revenue adds an approved amount to the per-currency revenue counter.
func (m *BillingMetrics) Revenue(amountInCents int64, currency string) {
	if m == nil || m.revenue == nil || amountInCents <= 0 {
		return
	}
	m.revenue.WithLabelValues(normalizeLabel(strings.ToUpper(currency))).Add(money.MajorFloat(amountInCents))
}
