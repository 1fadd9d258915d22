package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// Payment is one attempt to collect funds for a plan or course.
type Payment struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Reference           string              `gorm:"column:reference;not null;uniqueIndex:ux_payments_reference"`
	UserID              uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	AmountInCents       int64               `gorm:"column:amount_in_cents;not null"`
	Currency            string              `gorm:"column:currency;not null"`
	Status              enums.PaymentStatus `gorm:"column:status;type:text;not null;index"`
	ProductType         enums.ProductType   `gorm:"column:product_type;type:text;not null"`
	ProductID           *uuid.UUID          `gorm:"column:product_id;type:uuid"`
	PlanID              *uuid.UUID          `gorm:"column:plan_id;type:uuid"`
	BillingCycle        *enums.BillingCycle `gorm:"column:billing_cycle;type:text"`
	SubscriptionID      *uuid.UUID          `gorm:"column:subscription_id;type:uuid"`
	TransactionID       *string             `gorm:"column:transaction_id;uniqueIndex:ux_payments_transaction_id"`
	PaymentMethodType   *string             `gorm:"column:payment_method_type"`
	PaymentSourceID     *string             `gorm:"column:payment_source_id"`
	CustomerEmail       string              `gorm:"column:customer_email;not null"`
	CustomerName        *string             `gorm:"column:customer_name"`
	CustomerPhone       *string             `gorm:"column:customer_phone"`
	CustomerLegalID     *string             `gorm:"column:customer_legal_id"`
	CustomerLegalIDType *string             `gorm:"column:customer_legal_id_type"`
	RedirectURL         *string             `gorm:"column:redirect_url"`
	FinalizedAt         *time.Time          `gorm:"column:finalized_at"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ProductRef returns whichever of plan/product id matches ProductType.
func (p *Payment) ProductRef() *uuid.UUID {
	if p.ProductType == enums.ProductTypeCourse {
		return p.ProductID
	}
	return p.PlanID
}

// Finalize moves the payment to status and stamps FinalizedAt the first time a
// terminal status is reached.
func (p *Payment) Finalize(status enums.PaymentStatus, at time.Time) {
	p.Status = status
	if status.IsTerminal() && p.FinalizedAt == nil {
		stamped := at.UTC()
		p.FinalizedAt = &stamped
	}
}
