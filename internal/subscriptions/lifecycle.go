package subscriptions

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
)

// Cancel ends the caller's subscription. Immediate cancellation takes effect
// now; otherwise only cancelAtPeriodEnd is set and the sweep finalizes it.
func (e *Engine) Cancel(ctx context.Context, userID, id uuid.UUID, immediate bool) (*models.Subscription, error) {
	return e.transition(ctx, userID, id, func(tx *gorm.DB, sub *models.Subscription) error {
		switch sub.Status {
		case enums.SubscriptionStatusCanceled:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is already canceled")
		case enums.SubscriptionStatusPaused:
			if !immediate {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "paused subscriptions can only be canceled immediately")
			}
		}
		if immediate {
			return e.markCanceled(ctx, tx, sub, e.now(), "requested")
		}
		if sub.CancelAtPeriodEnd {
			return nil
		}
		sub.CancelAtPeriodEnd = true
		if err := e.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "schedule cancellation")
		}
		e.log(ctx, sub, "subscription cancellation scheduled")
		return nil
	})
}

// Pause stops renewals for an active or trialing subscription.
func (e *Engine) Pause(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error) {
	return e.transition(ctx, userID, id, func(tx *gorm.DB, sub *models.Subscription) error {
		if sub.Status != enums.SubscriptionStatusActive && sub.Status != enums.SubscriptionStatusTrialing {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot pause a %s subscription", sub.Status)
		}
		sub.Status = enums.SubscriptionStatusPaused
		if err := e.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "pause subscription")
		}
		e.log(ctx, sub, "subscription paused")
		return nil
	})
}

// Resume reactivates a paused subscription unless the user has since started
// another one.
func (e *Engine) Resume(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error) {
	return e.transition(ctx, userID, id, func(tx *gorm.DB, sub *models.Subscription) error {
		if sub.Status != enums.SubscriptionStatusPaused {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot resume a %s subscription", sub.Status)
		}
		repo := e.repo.WithTx(tx)
		live, err := repo.FindLiveByUserForUpdate(ctx, sub.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load live subscription")
		}
		if live != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "user already has a live subscription")
		}
		sub.Status = enums.SubscriptionStatusActive
		if err := repo.Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resume subscription")
		}
		e.log(ctx, sub, "subscription resumed")
		return nil
	})
}

// UpdatePaymentSource registers a new card with the processor and stores it
// on the subscription. The failure counter is reset so automatic renewals
// resume.
func (e *Engine) UpdatePaymentSource(ctx context.Context, userID, id uuid.UUID, cardToken, acceptanceToken string) (*models.Subscription, error) {
	if strings.TrimSpace(cardToken) == "" || strings.TrimSpace(acceptanceToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card token and acceptance token are required")
	}
	current, err := e.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if current.Status == enums.SubscriptionStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is canceled")
	}

	source, err := e.gateway.CreatePaymentSource(ctx, cardToken, current.CustomerEmail, acceptanceToken)
	if err != nil {
		return nil, err
	}
	source, err = e.gateway.WaitForPaymentSourceAvailable(ctx, source.ID)
	if err != nil {
		return nil, err
	}

	return e.transition(ctx, userID, id, func(tx *gorm.DB, sub *models.Subscription) error {
		if sub.Status == enums.SubscriptionStatusCanceled {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is canceled")
		}
		sourceID := source.ID.String()
		sub.PaymentSourceID = &sourceID
		sub.FailedChargeAttempts = 0
		if err := e.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment source")
		}
		if err := e.emit(ctx, tx, enums.EventSubscriptionSourceReplaced, sub, "", "card_updated"); err != nil {
			return err
		}
		e.log(ctx, sub, "subscription payment source replaced")
		return nil
	})
}

// transition locks the caller's subscription and applies fn in one transaction.
func (e *Engine) transition(ctx context.Context, userID, id uuid.UUID, fn func(tx *gorm.DB, sub *models.Subscription) error) (*models.Subscription, error) {
	var out *models.Subscription
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		sub, err := e.repo.WithTx(tx).FindByIDForUpdate(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		if sub == nil || sub.UserID != userID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if err := fn(tx, sub); err != nil {
			return err
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
