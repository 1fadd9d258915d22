// Package pricing determines the authoritative charge amount for a product.
// Amounts are never taken from the caller.
package pricing

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/google/uuid"
)

// DefaultMinimumAmountCents is the smallest chargeable amount in minor units.
const DefaultMinimumAmountCents int64 = 100

// Request identifies what the caller wants to buy.
type Request struct {
	ProductType  enums.ProductType
	PlanID       *uuid.UUID
	ProductID    *uuid.UUID
	BillingCycle string
	PlanType     string
}

// Quote is the resolved price.
type Quote struct {
	ProductType   enums.ProductType
	PlanID        *uuid.UUID
	ProductID     *uuid.UUID
	BillingCycle  *enums.BillingCycle
	AmountInCents int64
	Currency      string
	Description   string
}

// Params groups resolver dependencies.
type Params struct {
	Repo               Repository
	MinimumAmountCents int64
	DefaultCurrency    string
}

// Resolver applies the pricing rules over the catalog.
type Resolver struct {
	repo            Repository
	minimum         int64
	defaultCurrency string
}

// NewResolver builds a Resolver.
func NewResolver(p Params) (*Resolver, error) {
	if p.Repo == nil {
		return nil, errors.New("pricing repo is required")
	}
	minimum := p.MinimumAmountCents
	if minimum <= 0 {
		minimum = DefaultMinimumAmountCents
	}
	currency := strings.ToUpper(strings.TrimSpace(p.DefaultCurrency))
	if currency == "" {
		currency = "COP"
	}
	return &Resolver{repo: p.Repo, minimum: minimum, defaultCurrency: currency}, nil
}

// Resolve returns the price for req. Free items and prices below the minimum
// are validation errors; a plan whose type differs from the declared one is forbidden.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Quote, error) {
	var (
		quote *Quote
		err   error
	)
	switch req.ProductType {
	case enums.ProductTypeCourse:
		quote, err = r.resolveCourse(ctx, req)
	case enums.ProductTypePlan:
		quote, err = r.resolvePlan(ctx, req)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product type must be PLAN or COURSE")
	}
	if err != nil {
		return nil, err
	}
	if quote.AmountInCents < r.minimum {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price is below the minimum chargeable amount").
			WithDetails(map[string]any{"amount_in_cents": quote.AmountInCents, "minimum_cents": r.minimum})
	}
	return quote, nil
}

func (r *Resolver) resolveCourse(ctx context.Context, req Request) (*Quote, error) {
	if req.ProductID == nil || *req.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "productId is required for COURSE")
	}
	course, err := r.repo.FindCourse(ctx, *req.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load course")
	}
	if course == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
	}
	if course.IsFree {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "free courses cannot be charged")
	}
	id := course.ID
	return &Quote{
		ProductType:   enums.ProductTypeCourse,
		ProductID:     &id,
		AmountInCents: course.PriceCents,
		Currency:      r.currency(course.Currency),
		Description:   course.Title,
	}, nil
}

func (r *Resolver) resolvePlan(ctx context.Context, req Request) (*Quote, error) {
	if req.PlanID == nil || *req.PlanID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "planId is required for PLAN")
	}
	declaredType := strings.TrimSpace(req.PlanType)
	if declaredType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "planType is required for PLAN")
	}
	plan, err := r.repo.FindPlan(ctx, *req.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if plan.IsFree {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "free plans cannot be charged")
	}
	if !strings.EqualFold(strings.TrimSpace(plan.PlanType), declaredType) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "plan type does not match the requested plan")
	}

	cycle := plan.BillingInterval
	if strings.TrimSpace(req.BillingCycle) != "" {
		parsed, err := enums.ParseBillingCycle(req.BillingCycle)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing cycle")
		}
		cycle = parsed
	}
	if !cycle.IsValid() {
		cycle = enums.BillingCycleMonthly
	}

	id := plan.ID
	return &Quote{
		ProductType:   enums.ProductTypePlan,
		PlanID:        &id,
		BillingCycle:  &cycle,
		AmountInCents: plan.PriceFor(cycle),
		Currency:      r.currency(plan.Currency),
		Description:   plan.Name,
	}, nil
}

func (r *Resolver) currency(value string) string {
	if trimmed := strings.ToUpper(strings.TrimSpace(value)); trimmed != "" {
		return trimmed
	}
	return r.defaultCurrency
}
