package models

import (
	"time"

	"github.com/google/uuid"
)

// Course is a one-time product owned by the catalog service.
type Course struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Title      string    `gorm:"column:title;not null"`
	IsFree     bool      `gorm:"column:is_free;not null;default:false"`
	PriceCents int64     `gorm:"column:price_cents;not null;default:0"`
	Currency   string    `gorm:"column:currency;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Course) TableName() string { return "courses" }
