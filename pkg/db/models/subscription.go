package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// Subscription is a recurring billing relationship charged against a stored payment source.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_subscriptions_user_live,where:status <> 'paused' AND status <> 'canceled'"`
	PlanID               uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	PaymentSourceID      *string                  `gorm:"column:payment_source_id"`
	CustomerEmail        string                   `gorm:"column:customer_email;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:text;not null;default:'active'"`
	BillingCycle         enums.BillingCycle       `gorm:"column:billing_cycle;type:text;not null;default:'monthly'"`
	AmountCents          int64                    `gorm:"column:amount_cents;not null"`
	Currency             string                   `gorm:"column:currency;not null"`
	CurrentPeriodStart   time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	NextChargeAt         time.Time                `gorm:"column:next_charge_at;not null;index"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	FailedChargeAttempts int                      `gorm:"column:failed_charge_attempts;not null;default:0"`
	LastPaymentReference *string                  `gorm:"column:last_payment_reference"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// HasPaymentSource reports whether a reusable token is on file.
func (s *Subscription) HasPaymentSource() bool {
	return s.PaymentSourceID != nil && *s.PaymentSourceID != ""
}
