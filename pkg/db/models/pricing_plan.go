package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/pkg/enums"
)

// PricingPlan is owned by the catalog service; this engine only reads it.
type PricingPlan struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Name              string             `gorm:"column:name;not null"`
	PlanType          string             `gorm:"column:plan_type;not null"`
	IsFree            bool               `gorm:"column:is_free;not null;default:false"`
	MonthlyPriceCents int64              `gorm:"column:monthly_price_cents;not null;default:0"`
	AnnualPriceCents  int64              `gorm:"column:annual_price_cents;not null;default:0"`
	Currency          string             `gorm:"column:currency;not null"`
	BillingInterval   enums.BillingCycle `gorm:"column:billing_interval;type:text;not null;default:'monthly'"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (PricingPlan) TableName() string { return "pricing_plans" }

// PriceFor returns the stored price for the requested cycle.
func (p PricingPlan) PriceFor(cycle enums.BillingCycle) int64 {
	if cycle == enums.BillingCycleAnnual {
		return p.AnnualPriceCents
	}
	return p.MonthlyPriceCents
}
