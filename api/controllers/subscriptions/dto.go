package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/pkg/db/models"
)

type cancelRequest struct {
	Immediate bool `json:"immediate"`
}

type paymentSourceRequest struct {
	CardToken       string `json:"card_token" validate:"required"`
	AcceptanceToken string `json:"acceptance_token" validate:"required"`
}

type subscriptionResponse struct {
	ID                   uuid.UUID  `json:"id"`
	PlanID               uuid.UUID  `json:"plan_id"`
	Status               string     `json:"status"`
	BillingCycle         string     `json:"billing_cycle"`
	AmountCents          int64      `json:"amount_cents"`
	Currency             string     `json:"currency"`
	HasPaymentSource     bool       `json:"has_payment_source"`
	CurrentPeriodStart   time.Time  `json:"current_period_start"`
	CurrentPeriodEnd     time.Time  `json:"current_period_end"`
	NextChargeAt         time.Time  `json:"next_charge_at"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	FailedChargeAttempts int        `json:"failed_charge_attempts"`
	LastPaymentReference *string    `json:"last_payment_reference,omitempty"`
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                   sub.ID,
		PlanID:               sub.PlanID,
		Status:               string(sub.Status),
		BillingCycle:         string(sub.BillingCycle),
		AmountCents:          sub.AmountCents,
		Currency:             sub.Currency,
		HasPaymentSource:     sub.HasPaymentSource(),
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		NextChargeAt:         sub.NextChargeAt,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CanceledAt:           sub.CanceledAt,
		FailedChargeAttempts: sub.FailedChargeAttempts,
		LastPaymentReference: sub.LastPaymentReference,
	}
}

type renewalResponse struct {
	Outcome          string                `json:"outcome"`
	Success          bool                  `json:"success"`
	PaymentReference string                `json:"payment_reference,omitempty"`
	PaymentStatus    string                `json:"payment_status,omitempty"`
	Subscription     *subscriptionResponse `json:"subscription,omitempty"`
}
