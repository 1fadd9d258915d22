package models

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

func TestPaymentFinalizeStampsOnce(t *testing.T) {
	p := &Payment{Status: enums.PaymentStatusPending}
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	p.Finalize(enums.PaymentStatusPending, first)
	if p.FinalizedAt != nil {
		t.Fatalf("pending must not stamp finalized_at")
	}

	p.Finalize(enums.PaymentStatusApproved, first)
	if p.FinalizedAt == nil || !p.FinalizedAt.Equal(first) {
		t.Fatalf("expected finalized_at %v, got %v", first, p.FinalizedAt)
	}

	p.Finalize(enums.PaymentStatusApproved, first.Add(time.Hour))
	if !p.FinalizedAt.Equal(first) {
		t.Fatalf("finalized_at must not move, got %v", p.FinalizedAt)
	}
}

func TestPaymentProductRef(t *testing.T) {
	course := uuid.New()
	plan := uuid.New()

	p := Payment{ProductType: enums.ProductTypeCourse, ProductID: &course, PlanID: &plan}
	if *p.ProductRef() != course {
		t.Fatalf("course payment should reference product id")
	}
	p.ProductType = enums.ProductTypePlan
	if *p.ProductRef() != plan {
		t.Fatalf("plan payment should reference plan id")
	}
}

func TestPricingPlanPriceFor(t *testing.T) {
	plan := PricingPlan{MonthlyPriceCents: 2990000, AnnualPriceCents: 29900000}
	if plan.PriceFor(enums.BillingCycleMonthly) != 2990000 {
		t.Fatalf("unexpected monthly price")
	}
	if plan.PriceFor(enums.BillingCycleAnnual) != 29900000 {
		t.Fatalf("unexpected annual price")
	}
}

func TestOutboxEventAttempts(t *testing.T) {
	e := OutboxEvent{AggregateID: uuid.MustParse("8f1d2c9e-3b4a-4c5d-9e6f-7a8b9c0d1e2f"), AttemptCount: 2}
	if e.OrderingKey() != "8f1d2c9e-3b4a-4c5d-9e6f-7a8b9c0d1e2f" {
		t.Fatalf("unexpected ordering key %s", e.OrderingKey())
	}
	if e.NextAttempt() != 3 {
		t.Fatalf("expected attempt 3, got %d", e.NextAttempt())
	}
	if !e.LastAttempt(3) || e.LastAttempt(5) {
		t.Fatalf("last attempt misjudged for count %d", e.AttemptCount)
	}
	if e.LastAttempt(0) {
		t.Fatalf("zero max attempts means unlimited")
	}
}
