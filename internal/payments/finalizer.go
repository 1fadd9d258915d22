package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/outbox/payloads"
)

// FinalizerMetrics records payment outcomes after commit.
type FinalizerMetrics interface {
	PaymentFinalized(status string)
	Revenue(amountInCents int64, currency string)
}

// FinalizerParams groups finalizer dependencies.
type FinalizerParams struct {
	Repo    Repository
	Outbox  outbox.Emitter
	Metrics FinalizerMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

// Finalizer copies processor transaction state onto the local payment row.
type Finalizer struct {
	repo    Repository
	outbox  outbox.Emitter
	metrics FinalizerMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// ApplyResult describes what Apply did to the payment.
type ApplyResult struct {
	Payment  *models.Payment
	Previous enums.PaymentStatus
	// Transitioned is true only for the call that moved the payment out of PENDING.
	Transitioned bool
	// Ignored is set when a terminal payment received a different status.
	Ignored bool
}

// NewFinalizer builds a Finalizer.
func NewFinalizer(params FinalizerParams) (*Finalizer, error) {
	if params.Repo == nil {
		return nil, errors.New("payment repo is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Finalizer{
		repo:    params.Repo,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// Apply locks the payment named by txn.Reference inside tx and overwrites the
// processor-owned fields. A terminal status is never replaced by a different
// one; repeating the current status is accepted and changes nothing.
func (f *Finalizer) Apply(ctx context.Context, tx *gorm.DB, txn gateway.Transaction) (*ApplyResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	reference := strings.TrimSpace(txn.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	status, err := enums.ParsePaymentStatus(txn.Status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown transaction status")
	}

	repo := f.repo.WithTx(tx)
	payment, err := repo.FindByReferenceForUpdate(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "payment %s not found", reference)
	}

	logCtx := ctx
	if f.logg != nil {
		logCtx = f.logg.WithFields(ctx, map[string]any{
			"payment_reference": payment.Reference,
			"payment_status":    status,
			"transaction_id":    txn.ID.String(),
		})
	}

	result := &ApplyResult{Payment: payment, Previous: payment.Status}
	if payment.Status.IsTerminal() && payment.Status != status {
		result.Ignored = true
		if f.logg != nil {
			f.logg.Warn(logCtx, "ignoring status change on finalized payment")
		}
		return result, nil
	}
	if txn.AmountInCents != 0 && txn.AmountInCents != payment.AmountInCents && f.logg != nil {
		f.logg.Warn(f.logg.WithField(logCtx, "gateway_amount_in_cents", txn.AmountInCents), "gateway amount differs from payment amount")
	}

	copyTransaction(payment, txn)
	payment.Finalize(status, f.now())
	if err := repo.Update(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment")
	}
	result.Transitioned = result.Previous == enums.PaymentStatusPending && status.IsTerminal()
	if !result.Transitioned {
		return result, nil
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventPaymentFinalized,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: payloads.PaymentFinalizedEvent{
			PaymentID:         payment.ID,
			Reference:         payment.Reference,
			UserID:            payment.UserID,
			Status:            payment.Status,
			ProductType:       payment.ProductType,
			ProductID:         payment.ProductRef(),
			AmountInCents:     payment.AmountInCents,
			Currency:          payment.Currency,
			TransactionID:     deref(payment.TransactionID),
			PaymentMethodType: enums.NormalizePaymentMethodType(deref(payment.PaymentMethodType)),
			FinalizedAt:       *payment.FinalizedAt,
		},
		OccurredAt: *payment.FinalizedAt,
	}
	if err := f.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment event")
	}
	if f.logg != nil {
		f.logg.Info(logCtx, "payment finalized")
	}
	return result, nil
}

// Observe records metrics for a committed result.
func (f *Finalizer) Observe(result *ApplyResult) {
	if f.metrics == nil || result == nil || !result.Transitioned {
		return
	}
	f.metrics.PaymentFinalized(string(result.Payment.Status))
	if result.Payment.Status == enums.PaymentStatusApproved {
		f.metrics.Revenue(result.Payment.AmountInCents, result.Payment.Currency)
	}
}

// copyTransaction overwrites processor-owned fields that are present in txn.
func copyTransaction(p *models.Payment, txn gateway.Transaction) {
	if id := txn.ID.String(); id != "" {
		p.TransactionID = &id
	}
	if method := enums.NormalizePaymentMethodType(txn.PaymentMethodType); method != "" {
		value := method.String()
		p.PaymentMethodType = &value
	}
	if source := txn.PaymentSourceID.String(); source != "" {
		p.PaymentSourceID = &source
	}
	if email := strings.TrimSpace(txn.CustomerEmail); email != "" {
		p.CustomerEmail = strings.ToLower(email)
	}
	if data := txn.CustomerData; data != nil {
		overwrite(&p.CustomerName, data.FullName)
		overwrite(&p.CustomerPhone, data.PhoneNumber)
		overwrite(&p.CustomerLegalID, data.LegalID)
		overwrite(&p.CustomerLegalIDType, data.LegalIDType)
	}
}

func overwrite(field **string, value string) {
	if v := optional(value); v != nil {
		*field = v
	}
}
