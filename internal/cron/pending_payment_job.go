package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"go.uber.org/multierr"
)

const (
	defaultPendingStaleAfter = 30 * time.Minute
	defaultPendingBatchSize  = 100
)

type stalePaymentLister interface {
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.Payment, error)
}

type transactionLookup interface {
	GetTransaction(ctx context.Context, transactionID string) (*gateway.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*gateway.Transaction, error)
}

type transactionApplier interface {
	ApplyTransaction(ctx context.Context, txn gateway.Transaction) (*models.Payment, error)
}

// PendingPaymentReconcileJobParams configures the polling fallback for
// payments whose webhook never arrived.
type PendingPaymentReconcileJobParams struct {
	Logger       *logger.Logger
	Payments     stalePaymentLister
	Transactions transactionLookup
	Applier      transactionApplier
	StaleAfter   time.Duration
	BatchSize    int
	Now          func() time.Time
}

// NewPendingPaymentReconcileJob builds the pending payment polling job.
func NewPendingPaymentReconcileJob(params PendingPaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("transaction applier required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultPendingStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPendingBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &pendingPaymentReconcileJob{
		logg:       params.Logger,
		payments:   params.Payments,
		gateway:    params.Transactions,
		applier:    params.Applier,
		staleAfter: staleAfter,
		batch:      batch,
		now:        now,
	}, nil
}

type pendingPaymentReconcileJob struct {
	logg       *logger.Logger
	payments   stalePaymentLister
	gateway    transactionLookup
	applier    transactionApplier
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *pendingPaymentReconcileJob) Name() string { return "pending-payment-reconcile" }

func (j *pendingPaymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	ctx = outbox.WithActor(ctx, outbox.ActorRef{Source: outbox.SourceScheduler})
	stale, err := j.payments.ListStalePending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale pending payments: %w", err)
	}

	var errs error
	settled, unknown, stillPending := 0, 0, 0
	for i := range stale {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		payment := &stale[i]
		txn, err := j.lookup(ctx, payment)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				unknown++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("lookup payment %s: %w", payment.Reference, err))
			continue
		}
		if txn.Reference == "" {
			txn.Reference = payment.Reference
		}
		if txn.Reference != payment.Reference {
			errs = multierr.Append(errs, fmt.Errorf("payment %s: gateway returned reference %s", payment.Reference, txn.Reference))
			continue
		}
		updated, err := j.applier.ApplyTransaction(ctx, *txn)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("apply payment %s: %w", payment.Reference, err))
			continue
		}
		if updated != nil && updated.Status.IsTerminal() {
			settled++
		} else {
			stillPending++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"candidates":    len(stale),
		"settled":       settled,
		"still_pending": stillPending,
		"unknown":       unknown,
	})
	j.logg.Info(logCtx, "pending payment reconcile complete")
	return errs
}

// lookup prefers the stored transaction id and falls back to the reference
// for widget payments that never reported one.
func (j *pendingPaymentReconcileJob) lookup(ctx context.Context, payment *models.Payment) (*gateway.Transaction, error) {
	if payment.TransactionID != nil && strings.TrimSpace(*payment.TransactionID) != "" {
		return j.gateway.GetTransaction(ctx, *payment.TransactionID)
	}
	return j.gateway.FindTransactionByReference(ctx, payment.Reference)
}
