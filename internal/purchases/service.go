// Package purchases grants one-time products after an approved payment.
package purchases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

const paymentIDConstraint = "ux_purchases_payment_id"

// RecorderParams groups recorder dependencies.
type RecorderParams struct {
	Repo   Repository
	Outbox outbox.Emitter
	Logger *logger.Logger
	Now    func() time.Time
}

// Recorder records purchases. Recording is idempotent per payment.
type Recorder struct {
	repo   Repository
	outbox outbox.Emitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewRecorder validates params and builds a Recorder.
func NewRecorder(params RecorderParams) (*Recorder, error) {
	if params.Repo == nil {
		return nil, errors.New("purchase repo is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{repo: params.Repo, outbox: params.Outbox, logg: params.Logger, now: now}, nil
}

// Record grants the product bought by payment inside tx. A repeated call for
// the same payment returns the existing purchase without writing anything.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Purchase, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	if payment.ProductType != enums.ProductTypeCourse || payment.ProductID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is not for a one-time product")
	}
	if payment.Status != enums.PaymentStatusApproved {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "payment %s is %s", payment.Reference, payment.Status)
	}

	repo := r.repo.WithTx(tx)
	existing, err := repo.FindByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase")
	}
	if existing != nil {
		return existing, nil
	}

	purchase := &models.Purchase{
		UserID:       payment.UserID,
		ProductID:    *payment.ProductID,
		ProductType:  payment.ProductType,
		PaymentID:    payment.ID,
		PriceInCents: payment.AmountInCents,
		PurchasedAt:  r.now().UTC(),
	}
	created, err := repo.CreateIfAbsent(ctx, purchase)
	if err != nil && !db.IsUniqueViolation(err, paymentIDConstraint) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create purchase")
	}
	if !created {
		existing, err := repo.FindByPaymentID(ctx, payment.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase")
		}
		if existing == nil {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "purchase write lost")
		}
		return existing, nil
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventPurchaseRecorded,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   purchase.ID,
		Data: payloads.PurchaseRecordedEvent{
			PurchaseID:   purchase.ID,
			PaymentID:    purchase.PaymentID,
			UserID:       purchase.UserID,
			ProductID:    purchase.ProductID,
			ProductType:  purchase.ProductType,
			PriceInCents: purchase.PriceInCents,
			PurchasedAt:  purchase.PurchasedAt,
		},
		OccurredAt: purchase.PurchasedAt,
	}
	if err := r.outbox.Emit(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit purchase event")
	}

	if r.logg != nil {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"purchase_id":       purchase.ID.String(),
			"payment_reference": payment.Reference,
			"user_id":           purchase.UserID.String(),
			"product_id":        purchase.ProductID.String(),
		})
		r.logg.Info(logCtx, "purchase recorded")
	}
	return purchase, nil
}

// HasPurchased reports whether the user owns the product.
func (r *Recorder) HasPurchased(ctx context.Context, userID, productID uuid.UUID, productType enums.ProductType) (bool, error) {
	if userID == uuid.Nil || productID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "user and product are required")
	}
	owned, err := r.repo.Exists(ctx, userID, productID, productType)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check purchase")
	}
	return owned, nil
}

// ListForUser returns the user's purchases, newest first.
func (r *Recorder) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error) {
	rows, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases")
	}
	return rows, nil
}
