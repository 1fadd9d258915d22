package payloads

import (
	"time"

	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/google/uuid"
)

// PaymentFinalizedEvent is emitted once when a payment reaches a terminal status.
type PaymentFinalizedEvent struct {
	PaymentID         uuid.UUID               `json:"payment_id"`
	Reference         string                  `json:"reference"`
	UserID            uuid.UUID               `json:"user_id"`
	Status            enums.PaymentStatus     `json:"status"`
	ProductType       enums.ProductType       `json:"product_type"`
	ProductID         *uuid.UUID              `json:"product_id,omitempty"`
	AmountInCents     int64                   `json:"amount_in_cents"`
	Currency          string                  `json:"currency"`
	TransactionID     string                  `json:"transaction_id,omitempty"`
	PaymentMethodType enums.PaymentMethodType `json:"payment_method_type,omitempty"`
	FinalizedAt       time.Time               `json:"finalized_at"`
}

// PurchaseRecordedEvent reports a newly granted one-time product.
type PurchaseRecordedEvent struct {
	PurchaseID   uuid.UUID         `json:"purchase_id"`
	PaymentID    uuid.UUID         `json:"payment_id"`
	UserID       uuid.UUID         `json:"user_id"`
	ProductID    uuid.UUID         `json:"product_id"`
	ProductType  enums.ProductType `json:"product_type"`
	PriceInCents int64             `json:"price_in_cents"`
	PurchasedAt  time.Time         `json:"purchased_at"`
}

// SubscriptionEvent covers activation, renewal, renewal failure, cancellation
// and payment source replacement.
type SubscriptionEvent struct {
	SubscriptionID       uuid.UUID                `json:"subscription_id"`
	UserID               uuid.UUID                `json:"user_id"`
	PlanID               uuid.UUID                `json:"plan_id"`
	Status               enums.SubscriptionStatus `json:"status"`
	BillingCycle         enums.BillingCycle       `json:"billing_cycle"`
	AmountCents          int64                    `json:"amount_cents"`
	Currency             string                   `json:"currency"`
	CurrentPeriodStart   time.Time                `json:"current_period_start"`
	CurrentPeriodEnd     time.Time                `json:"current_period_end"`
	FailedChargeAttempts int                      `json:"failed_charge_attempts"`
	PaymentReference     string                   `json:"payment_reference,omitempty"`
	Reason               string                   `json:"reason,omitempty"`
}
