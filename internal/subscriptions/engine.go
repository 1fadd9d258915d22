// Package subscriptions owns the recurring billing lifecycle: activation from
// an approved payment, renewals against the stored payment source, and the
// manual transitions exposed to users.
package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

// DefaultMaxFailedChargeAttempts stops automatic renewals after this many consecutive failures.
const DefaultMaxFailedChargeAttempts = 3

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Gateway is the processor surface used for renewals and card replacement.
type Gateway interface {
	CreatePaymentSource(ctx context.Context, cardToken, customerEmail, acceptanceToken string) (*gateway.PaymentSource, error)
	WaitForPaymentSourceAvailable(ctx context.Context, sourceID gateway.ID) (*gateway.PaymentSource, error)
	ChargeWithPaymentSource(ctx context.Context, req gateway.ChargeRequest) (*gateway.Transaction, error)
}

// PaymentFinalizer applies a processor transaction to its payment row.
type PaymentFinalizer interface {
	Apply(ctx context.Context, tx *gorm.DB, txn gateway.Transaction) (*payments.ApplyResult, error)
	Observe(result *payments.ApplyResult)
}

// Metrics counts renewal outcomes.
type Metrics interface {
	Renewal(outcome string)
}

// EngineParams groups engine dependencies.
type EngineParams struct {
	Repo              Repository
	Payments          payments.Repository
	Finalizer         PaymentFinalizer
	Gateway           Gateway
	Outbox            outbox.Emitter
	TransactionRunner txRunner
	Metrics           Metrics
	Logger            *logger.Logger
	MaxFailedAttempts int
	SweepPageSize     int
	Now               func() time.Time
}

// Engine runs the subscription state machine.
type Engine struct {
	repo        Repository
	payments    payments.Repository
	finalizer   PaymentFinalizer
	gateway     Gateway
	outbox      outbox.Emitter
	tx          txRunner
	metrics     Metrics
	logg        *logger.Logger
	maxFailures int
	pageSize    int
	now         func() time.Time
}

// NewEngine validates params and builds an Engine.
func NewEngine(params EngineParams) (*Engine, error) {
	switch {
	case params.Repo == nil:
		return nil, errors.New("subscription repo is required")
	case params.Payments == nil:
		return nil, errors.New("payment repo is required")
	case params.Finalizer == nil:
		return nil, errors.New("payment finalizer is required")
	case params.Gateway == nil:
		return nil, errors.New("gateway is required")
	case params.Outbox == nil:
		return nil, errors.New("outbox emitter is required")
	case params.TransactionRunner == nil:
		return nil, errors.New("transaction runner is required")
	}
	maxFailures := params.MaxFailedAttempts
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailedChargeAttempts
	}
	pageSize := params.SweepPageSize
	if pageSize <= 0 {
		pageSize = DefaultDuePageSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:        params.Repo,
		payments:    params.Payments,
		finalizer:   params.Finalizer,
		gateway:     params.Gateway,
		outbox:      params.Outbox,
		tx:          params.TransactionRunner,
		metrics:     params.Metrics,
		logg:        params.Logger,
		maxFailures: maxFailures,
		pageSize:    pageSize,
		now:         now,
	}, nil
}

// MaxFailedAttempts returns the automatic retry ceiling.
func (e *Engine) MaxFailedAttempts() int {
	return e.maxFailures
}

// CreateFromApprovedPayment activates a subscription for an approved PLAN
// payment inside tx. When the user already holds a live subscription the
// payment's card replaces the one on file instead.
func (e *Engine) CreateFromApprovedPayment(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Subscription, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if payment == nil || payment.ProductType != enums.ProductTypePlan || payment.PlanID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is not for a plan")
	}
	if payment.Status != enums.PaymentStatusApproved {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment %s is %s", payment.Reference, payment.Status)
	}

	repo := e.repo.WithTx(tx)
	live, err := repo.FindLiveByUserForUpdate(ctx, payment.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load live subscription")
	}
	if live != nil {
		return e.replaceSourceFromPayment(ctx, tx, live, payment)
	}

	start := e.now().UTC()
	if payment.FinalizedAt != nil {
		start = payment.FinalizedAt.UTC()
	}
	cycle := enums.BillingCycleMonthly
	if payment.BillingCycle != nil && payment.BillingCycle.IsValid() {
		cycle = *payment.BillingCycle
	}
	end := cycle.Advance(start)
	reference := payment.Reference
	sub := &models.Subscription{
		UserID:               payment.UserID,
		PlanID:               *payment.PlanID,
		PaymentSourceID:      payment.PaymentSourceID,
		CustomerEmail:        payment.CustomerEmail,
		Status:               enums.SubscriptionStatusActive,
		BillingCycle:         cycle,
		AmountCents:          payment.AmountInCents,
		Currency:             payment.Currency,
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
		NextChargeAt:         end,
		LastPaymentReference: &reference,
	}
	created, err := repo.CreateIfNoLive(ctx, sub)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create subscription")
	}
	if !created {
		live, err := repo.FindLiveByUserForUpdate(ctx, payment.UserID)
		if err != nil || live == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "live subscription changed concurrently")
		}
		return e.replaceSourceFromPayment(ctx, tx, live, payment)
	}

	payment.SubscriptionID = &sub.ID
	if err := e.payments.WithTx(tx).Update(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link payment to subscription")
	}
	if err := e.emit(ctx, tx, enums.EventSubscriptionActivated, sub, payment.Reference, ""); err != nil {
		return nil, err
	}
	e.log(ctx, sub, "subscription activated")
	return sub, nil
}

func (e *Engine) replaceSourceFromPayment(ctx context.Context, tx *gorm.DB, sub *models.Subscription, payment *models.Payment) (*models.Subscription, error) {
	if payment.PaymentSourceID == nil || *payment.PaymentSourceID == "" {
		return sub, nil
	}
	if sub.HasPaymentSource() && *sub.PaymentSourceID == *payment.PaymentSourceID && sub.FailedChargeAttempts == 0 {
		return sub, nil
	}
	source := *payment.PaymentSourceID
	sub.PaymentSourceID = &source
	sub.FailedChargeAttempts = 0
	if err := e.repo.WithTx(tx).Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "replace payment source")
	}
	if err := e.emit(ctx, tx, enums.EventSubscriptionSourceReplaced, sub, payment.Reference, ""); err != nil {
		return nil, err
	}
	e.log(ctx, sub, "subscription payment source replaced")
	return sub, nil
}

// ApplyRenewalOutcome moves the subscription owning a renewal payment forward
// or into past_due. Callers invoke it once, for the call that finalized the
// payment.
func (e *Engine) ApplyRenewalOutcome(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Subscription, error) {
	if payment == nil || payment.SubscriptionID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is not a renewal")
	}
	repo := e.repo.WithTx(tx)
	sub, err := repo.FindByIDForUpdate(ctx, *payment.SubscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.Status == enums.SubscriptionStatusCanceled {
		return sub, nil
	}

	eventType := enums.EventSubscriptionRenewed
	reason := ""
	if payment.Status == enums.PaymentStatusApproved {
		advancePeriod(sub)
		sub.FailedChargeAttempts = 0
		sub.Status = enums.SubscriptionStatusActive
	} else {
		sub.FailedChargeAttempts++
		sub.Status = enums.SubscriptionStatusPastDue
		eventType = enums.EventSubscriptionRenewalFailed
		reason = string(payment.Status)
	}
	if err := repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
	}
	if err := e.emit(ctx, tx, eventType, sub, payment.Reference, reason); err != nil {
		return nil, err
	}
	return sub, nil
}

// advancePeriod starts the next period where the current one ends.
func advancePeriod(sub *models.Subscription) {
	start := sub.CurrentPeriodEnd
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = sub.BillingCycle.Advance(start)
	sub.NextChargeAt = sub.CurrentPeriodEnd
}

// Get returns the caller's subscription.
func (e *Engine) Get(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error) {
	sub, err := e.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil || sub.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

// ListForUser returns every subscription the user has held, newest first.
func (e *Engine) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	rows, err := e.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list subscriptions")
	}
	return rows, nil
}

// ListDue returns one page of subscriptions the sweep should act on at
// query.Now. The engine's failure ceiling applies when the query sets none.
func (e *Engine) ListDue(ctx context.Context, query DueQuery) ([]models.Subscription, error) {
	if query.MaxFailures <= 0 {
		query.MaxFailures = e.maxFailures
	}
	rows, err := e.repo.ListDue(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list due subscriptions")
	}
	return rows, nil
}

func (e *Engine) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, sub *models.Subscription, reference, reason string) error {
	err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Data: payloads.SubscriptionEvent{
			SubscriptionID:       sub.ID,
			UserID:               sub.UserID,
			PlanID:               sub.PlanID,
			Status:               sub.Status,
			BillingCycle:         sub.BillingCycle,
			AmountCents:          sub.AmountCents,
			Currency:             sub.Currency,
			CurrentPeriodStart:   sub.CurrentPeriodStart,
			CurrentPeriodEnd:     sub.CurrentPeriodEnd,
			FailedChargeAttempts: sub.FailedChargeAttempts,
			PaymentReference:     reference,
			Reason:               reason,
		},
		OccurredAt: e.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit subscription event")
	}
	return nil
}

func (e *Engine) log(ctx context.Context, sub *models.Subscription, msg string) {
	if e.logg == nil {
		return
	}
	logCtx := e.logg.WithSubscriptionID(ctx, sub.ID.String())
	logCtx = e.logg.WithFields(logCtx, map[string]any{
		"user_id":                sub.UserID.String(),
		"subscription_status":    sub.Status,
		"failed_charge_attempts": sub.FailedChargeAttempts,
	})
	e.logg.Info(logCtx, msg)
}
