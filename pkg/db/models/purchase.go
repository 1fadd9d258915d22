package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// Purchase records ownership of a one-time product. At most one row exists per payment.
type Purchase struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index:ix_purchases_user_product"`
	ProductID    uuid.UUID         `gorm:"column:product_id;type:uuid;not null;index:ix_purchases_user_product"`
	ProductType  enums.ProductType `gorm:"column:product_type;type:text;not null"`
	PaymentID    uuid.UUID         `gorm:"column:payment_id;type:uuid;not null;uniqueIndex:ux_purchases_payment_id"`
	PriceInCents int64             `gorm:"column:price_in_cents;not null"`
	PurchasedAt  time.Time         `gorm:"column:purchased_at;not null"`
}

func (Purchase) TableName() string { return "purchases" }

func (p *Purchase) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
