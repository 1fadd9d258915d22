// Package webhooks reconciles processor transaction updates into local
// payment state and dispatches provisioning for approved payments.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
)

// Outcome labels returned by HandleEvent and recorded in webhook metrics.
const (
	// OutcomeApplied means the transaction reached its payment row.
	OutcomeApplied = "applied"
	// OutcomeDuplicate is a redelivery of a checksum already applied.
	OutcomeDuplicate = "duplicate"
	// OutcomeIgnored covers events other than transaction.updated.
	OutcomeIgnored = "ignored"
	// OutcomeInvalidSignature rejects a delivery whose checksum does not match.
	OutcomeInvalidSignature = "invalid_signature"
	// OutcomeFailed asks the processor to redeliver.
	OutcomeFailed = "failed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ChecksumVerifier validates webhook checksums.
type ChecksumVerifier interface {
	VerifyWebhookChecksum(properties []string, data json.RawMessage, timestamp int64, received string) bool
}

// TransactionFetcher reads transactions from the processor.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, transactionID string) (*gateway.Transaction, error)
}

// PaymentFinalizer applies a transaction to its payment row.
type PaymentFinalizer interface {
	Apply(ctx context.Context, tx *gorm.DB, txn gateway.Transaction) (*payments.ApplyResult, error)
	Observe(result *payments.ApplyResult)
}

// PurchaseRecorder grants one-time products.
type PurchaseRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Purchase, error)
}

// SubscriptionProvisioner activates and renews subscriptions.
type SubscriptionProvisioner interface {
	CreateFromApprovedPayment(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Subscription, error)
	ApplyRenewalOutcome(ctx context.Context, tx *gorm.DB, payment *models.Payment) (*models.Subscription, error)
}

// Guard deduplicates deliveries.
type Guard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Metrics counts webhook outcomes.
type Metrics interface {
	Webhook(outcome string)
}

// ReconcilerParams groups reconciler dependencies.
type ReconcilerParams struct {
	Verifier          ChecksumVerifier
	Transactions      TransactionFetcher
	Payments          payments.Repository
	Finalizer         PaymentFinalizer
	Purchases         PurchaseRecorder
	Subscriptions     SubscriptionProvisioner
	Guard             Guard
	TransactionRunner txRunner
	Metrics           Metrics
	Logger            *logger.Logger
}

// Reconciler applies processor transaction state. Webhooks, redirect
// verification, direct card charges and the pending payment job all go
// through ApplyTransaction.
type Reconciler struct {
	verifier      ChecksumVerifier
	transactions  TransactionFetcher
	payments      payments.Repository
	finalizer     PaymentFinalizer
	purchases     PurchaseRecorder
	subscriptions SubscriptionProvisioner
	guard         Guard
	tx            txRunner
	metrics       Metrics
	logg          *logger.Logger
}

// NewReconciler checks the required collaborators. Transactions, Guard,
// Metrics and Logger may be nil; without Transactions VerifyByTransactionID
// returns an internal error.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.Verifier == nil:
		return nil, errors.New("checksum verifier is required")
	case params.Payments == nil:
		return nil, errors.New("payment repo is required")
	case params.Finalizer == nil:
		return nil, errors.New("payment finalizer is required")
	case params.Purchases == nil:
		return nil, errors.New("purchase recorder is required")
	case params.Subscriptions == nil:
		return nil, errors.New("subscription provisioner is required")
	case params.TransactionRunner == nil:
		return nil, errors.New("transaction runner is required")
	}
	return &Reconciler{
		verifier:      params.Verifier,
		transactions:  params.Transactions,
		payments:      params.Payments,
		finalizer:     params.Finalizer,
		purchases:     params.Purchases,
		subscriptions: params.Subscriptions,
		guard:         params.Guard,
		tx:            params.TransactionRunner,
		metrics:       params.Metrics,
		logg:          params.Logger,
	}, nil
}

// HandleEvent verifies and applies one webhook delivery. It returns the
// outcome label; errors mean the processor should redeliver.
func (r *Reconciler) HandleEvent(ctx context.Context, event *Event) (string, error) {
	if event == nil {
		return OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "webhook event is required")
	}
	if !r.verifier.VerifyWebhookChecksum(event.Signature.Properties, event.Data, event.Timestamp, event.Signature.Checksum) {
		r.observe(OutcomeInvalidSignature)
		if r.logg != nil {
			r.logg.Warn(r.logg.WithField(ctx, "event", event.Event), "webhook checksum mismatch")
		}
		return OutcomeInvalidSignature, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook checksum mismatch")
	}
	if event.Event != EventTransactionUpdated {
		r.observe(OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	txn, err := event.Transaction()
	if err != nil {
		r.observe(OutcomeFailed)
		return OutcomeFailed, err
	}

	key := strings.ToLower(event.Signature.Checksum)
	if r.guard != nil {
		seen, err := r.guard.CheckAndMark(ctx, key)
		if err != nil {
			r.observe(OutcomeFailed)
			return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
		}
		if seen {
			r.observe(OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
	}

	ctx = outbox.WithActor(ctx, outbox.ActorRef{Source: outbox.SourceWebhook})
	if _, err := r.ApplyTransaction(ctx, *txn); err != nil {
		if r.guard != nil {
			if delErr := r.guard.Delete(ctx, key); delErr != nil && r.logg != nil {
				r.logg.Error(ctx, "failed to release webhook idempotency key", delErr)
			}
		}
		r.observe(OutcomeFailed)
		return OutcomeFailed, err
	}
	r.observe(OutcomeApplied)
	return OutcomeApplied, nil
}

// ApplyTransaction updates the payment and runs provisioning in one
// database transaction, so a provisioning failure leaves the payment
// untouched for the next delivery.
func (r *Reconciler) ApplyTransaction(ctx context.Context, txn gateway.Transaction) (*models.Payment, error) {
	var result *payments.ApplyResult
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = r.finalizer.Apply(ctx, tx, txn)
		if err != nil {
			return err
		}
		if result.Ignored {
			return nil
		}
		return r.provision(ctx, tx, result)
	})
	if err != nil {
		if r.logg != nil {
			logCtx := r.logg.WithPaymentReference(ctx, txn.Reference)
			r.logg.Error(r.logg.WithTransactionID(logCtx, txn.ID.String()), "apply transaction failed", err)
		}
		return nil, err
	}
	r.finalizer.Observe(result)
	return result.Payment, nil
}

// provision dispatches on the finalized payment. Renewal payments settle
// their subscription once, approved course payments record a purchase, and
// approved plan payments made with a reusable card start a subscription.
func (r *Reconciler) provision(ctx context.Context, tx *gorm.DB, result *payments.ApplyResult) error {
	payment := result.Payment
	if payment.SubscriptionID != nil {
		if !result.Transitioned {
			return nil
		}
		_, err := r.subscriptions.ApplyRenewalOutcome(ctx, tx, payment)
		return err
	}
	if payment.Status != enums.PaymentStatusApproved {
		return nil
	}

	switch payment.ProductType {
	case enums.ProductTypeCourse:
		_, err := r.purchases.Record(ctx, tx, payment)
		return err
	case enums.ProductTypePlan:
		method := enums.NormalizePaymentMethodType(deref(payment.PaymentMethodType))
		if !method.IsRecurringCapable() {
			if r.logg != nil {
				logCtx := r.logg.WithPaymentReference(ctx, payment.Reference)
				r.logg.Warn(r.logg.WithField(logCtx, "payment_method_type", method), "approved plan payment cannot recur, no subscription created")
			}
			return nil
		}
		_, err := r.subscriptions.CreateFromApprovedPayment(ctx, tx, payment)
		return err
	default:
		return nil
	}
}

// VerifyByTransactionID pulls a transaction from the processor and applies
// it. The payment must belong to userID.
func (r *Reconciler) VerifyByTransactionID(ctx context.Context, userID uuid.UUID, transactionID string) (*models.Payment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	if r.transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction lookup is not configured")
	}
	txn, err := r.transactions.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	payment, err := r.payments.FindByReference(ctx, txn.Reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil || payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return r.ApplyTransaction(ctx, *txn)
}

func (r *Reconciler) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.Webhook(outcome)
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
