package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
)

// RenewalOutcome summarizes one renewal attempt.
type RenewalOutcome string

const (
	RenewalApproved RenewalOutcome = "approved"
	RenewalFailed   RenewalOutcome = "failed"
	// RenewalPending means the processor has not decided yet; the webhook or
	// the pending payment job completes the renewal.
	RenewalPending RenewalOutcome = "pending"
	RenewalSkipped RenewalOutcome = "skipped"
)

// RenewalResult is returned by Renew.
type RenewalResult struct {
	Outcome      RenewalOutcome
	Subscription *models.Subscription
	Payment      *models.Payment
}

// Success reports whether the charge was approved.
func (r *RenewalResult) Success() bool {
	return r != nil && r.Outcome == RenewalApproved
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	Due      int
	Renewed  int
	Failed   int
	Pending  int
	Canceled int
	Skipped  int
}

const noPaymentSourceReason = "no payment source"

// Renew charges the caller's subscription now, regardless of its failure
// counter or due date. It refuses while the previous renewal payment is still
// pending.
func (e *Engine) Renew(ctx context.Context, userID, id uuid.UUID) (*RenewalResult, error) {
	if _, err := e.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return e.renew(ctx, id, nil)
}

// Sweep processes every subscription due at now, one keyset page at a time:
// period-end cancellations are finalized and the rest are renewed.
// Subscriptions at the failure ceiling are not listed at all. One item's
// failure never stops the others; item errors are combined in the returned
// error.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	result := &SweepResult{}
	var errs error
	query := DueQuery{Now: now, MaxFailures: e.maxFailures, Limit: e.pageSize}
	for {
		page, err := e.ListDue(ctx, query)
		if err != nil {
			return result, multierr.Append(errs, err)
		}
		result.Due += len(page)
		for _, sub := range page {
			if err := ctx.Err(); err != nil {
				return result, multierr.Append(errs, err)
			}
			errs = multierr.Append(errs, e.sweepOne(ctx, sub, now, result))
		}
		if len(page) < query.Limit {
			return result, errs
		}
		query.After = CursorAfter(page[len(page)-1])
	}
}

func (e *Engine) sweepOne(ctx context.Context, sub models.Subscription, now time.Time, result *SweepResult) error {
	if sub.CancelAtPeriodEnd {
		canceled, err := e.cancelAtPeriodEnd(ctx, sub.ID, now)
		if err != nil {
			return fmt.Errorf("cancel subscription %s: %w", sub.ID, err)
		}
		if canceled {
			result.Canceled++
		} else {
			result.Skipped++
		}
		return nil
	}
	res, err := e.renew(ctx, sub.ID, &now)
	if err != nil {
		return fmt.Errorf("renew subscription %s: %w", sub.ID, err)
	}
	switch res.Outcome {
	case RenewalApproved:
		result.Renewed++
	case RenewalFailed:
		result.Failed++
	case RenewalPending:
		result.Pending++
	default:
		result.Skipped++
	}
	return nil
}

// renew runs one renewal attempt. When dueBy is set the subscription is
// skipped unless it is still due at that instant, so a re-run sweep does not
// charge twice.
func (e *Engine) renew(ctx context.Context, id uuid.UUID, dueBy *time.Time) (*RenewalResult, error) {
	prepared, err := e.prepareRenewal(ctx, id, dueBy)
	if err != nil {
		return nil, err
	}
	if prepared.Payment == nil {
		e.observeRenewal(prepared.Outcome)
		return prepared, nil
	}

	txn := e.charge(ctx, prepared.Subscription, prepared.Payment)

	var applied *payments.ApplyResult
	sub := prepared.Subscription
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		applied, err = e.finalizer.Apply(ctx, tx, txn)
		if err != nil {
			return err
		}
		if applied.Transitioned {
			sub, err = e.ApplyRenewalOutcome(ctx, tx, applied.Payment)
			return err
		}
		if applied.Payment.Status.IsTerminal() {
			current, err := e.repo.WithTx(tx).FindByID(ctx, id)
			if err != nil {
				return err
			}
			if current != nil {
				sub = current
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply renewal charge")
	}
	e.finalizer.Observe(applied)

	result := &RenewalResult{Subscription: sub, Payment: applied.Payment}
	switch applied.Payment.Status {
	case enums.PaymentStatusApproved:
		result.Outcome = RenewalApproved
	case enums.PaymentStatusPending:
		result.Outcome = RenewalPending
	default:
		result.Outcome = RenewalFailed
	}
	e.observeRenewal(result.Outcome)
	e.log(ctx, sub, "subscription renewal "+string(result.Outcome))
	return result, nil
}

// prepareRenewal locks the subscription and records a PENDING renewal payment
// for it. A subscription without a payment source fails immediately.
func (e *Engine) prepareRenewal(ctx context.Context, id uuid.UUID, dueBy *time.Time) (*RenewalResult, error) {
	result := &RenewalResult{}
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		sub, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		result.Subscription = sub
		if sub.Status == enums.SubscriptionStatusCanceled || sub.Status == enums.SubscriptionStatusPaused {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "subscription is %s", sub.Status)
		}
		if dueBy != nil && (!isDueStatus(sub.Status) || sub.NextChargeAt.After(*dueBy) || sub.CancelAtPeriodEnd || sub.FailedChargeAttempts >= e.maxFailures) {
			result.Outcome = RenewalSkipped
			return nil
		}
		inFlight, err := e.renewalInFlight(ctx, tx, sub)
		if err != nil {
			return err
		}
		if inFlight {
			if dueBy != nil {
				result.Outcome = RenewalSkipped
				e.log(ctx, sub, "subscription renewal skipped while last charge is pending")
				return nil
			}
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "renewal payment %s is still pending", *sub.LastPaymentReference)
		}

		if !sub.HasPaymentSource() {
			sub.FailedChargeAttempts++
			sub.Status = enums.SubscriptionStatusPastDue
			if err := repo.Update(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
			}
			result.Outcome = RenewalFailed
			return e.emit(ctx, tx, enums.EventSubscriptionRenewalFailed, sub, "", noPaymentSourceReason)
		}

		cycle := sub.BillingCycle
		method := enums.PaymentMethodCard.String()
		payment := &models.Payment{
			Reference:         payments.NewReference(e.now()),
			UserID:            sub.UserID,
			AmountInCents:     sub.AmountCents,
			Currency:          sub.Currency,
			Status:            enums.PaymentStatusPending,
			ProductType:       enums.ProductTypePlan,
			PlanID:            &sub.PlanID,
			BillingCycle:      &cycle,
			SubscriptionID:    &sub.ID,
			PaymentMethodType: &method,
			PaymentSourceID:   sub.PaymentSourceID,
			CustomerEmail:     sub.CustomerEmail,
		}
		if err := e.payments.WithTx(tx).Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create renewal payment")
		}
		sub.LastPaymentReference = &payment.Reference
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
		}
		result.Payment = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// renewalInFlight reports whether the subscription's last renewal payment is
// still PENDING. Charging again before the webhook or the pending payment job
// settles it could bill the same period twice.
func (e *Engine) renewalInFlight(ctx context.Context, tx *gorm.DB, sub *models.Subscription) (bool, error) {
	if sub.LastPaymentReference == nil || *sub.LastPaymentReference == "" {
		return false, nil
	}
	last, err := e.payments.WithTx(tx).FindByReference(ctx, *sub.LastPaymentReference)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load last renewal payment")
	}
	return last != nil && last.Status == enums.PaymentStatusPending, nil
}

// charge asks the processor to charge the stored source. Gateway errors are
// turned into an ERROR transaction so they count as a failed attempt.
func (e *Engine) charge(ctx context.Context, sub *models.Subscription, payment *models.Payment) gateway.Transaction {
	txn, err := e.gateway.ChargeWithPaymentSource(ctx, gateway.ChargeRequest{
		PaymentSourceID: gateway.ID(*sub.PaymentSourceID),
		AmountInCents:   payment.AmountInCents,
		Currency:        payment.Currency,
		Reference:       payment.Reference,
		CustomerEmail:   payment.CustomerEmail,
	})
	if err != nil {
		if e.logg != nil {
			logCtx := e.logg.WithPaymentReference(ctx, payment.Reference)
			e.logg.Error(e.logg.WithSubscriptionID(logCtx, sub.ID.String()), "renewal charge failed", err)
		}
		return gateway.Transaction{
			Reference:     payment.Reference,
			Status:        enums.PaymentStatusError.String(),
			StatusMessage: err.Error(),
		}
	}
	result := *txn
	result.Reference = payment.Reference
	return result
}

func (e *Engine) cancelAtPeriodEnd(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	canceled := false
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		sub, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sub == nil || !sub.CancelAtPeriodEnd || !isDueStatus(sub.Status) || sub.NextChargeAt.After(now) {
			return nil
		}
		if err := e.markCanceled(ctx, tx, sub, now, "period_end"); err != nil {
			return err
		}
		canceled = true
		return nil
	})
	return canceled, err
}

func (e *Engine) markCanceled(ctx context.Context, tx *gorm.DB, sub *models.Subscription, now time.Time, reason string) error {
	canceledAt := now.UTC()
	sub.Status = enums.SubscriptionStatusCanceled
	sub.CanceledAt = &canceledAt
	if err := e.repo.WithTx(tx).Update(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel subscription")
	}
	if err := e.emit(ctx, tx, enums.EventSubscriptionCanceled, sub, "", reason); err != nil {
		return err
	}
	e.log(ctx, sub, "subscription canceled")
	return nil
}

func (e *Engine) observeRenewal(outcome RenewalOutcome) {
	if e.metrics != nil && outcome != RenewalSkipped {
		e.metrics.Renewal(string(outcome))
	}
}

func isDueStatus(status enums.SubscriptionStatus) bool {
	for _, candidate := range enums.DueSubscriptionStatuses {
		if candidate == status {
			return true
		}
	}
	return false
}
