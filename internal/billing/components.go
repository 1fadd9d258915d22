// Package billing assembles the payment, purchase, subscription and webhook
// services over one database, one outbox and one processor client.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/internal/pricing"
	"github.com/angelmondragon/payrecon/internal/purchases"
	"github.com/angelmondragon/payrecon/internal/subscriptions"
	"github.com/angelmondragon/payrecon/internal/webhooks"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/gateway"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/metrics"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/outbox/idempotency"
	pkgredis "github.com/angelmondragon/payrecon/pkg/redis"
	"github.com/angelmondragon/payrecon/pkg/signature"
)

const webhookGuardScope = "gateway-webhook"

// Deps are the process-level resources the billing services run on.
type Deps struct {
	Config  *config.Config
	DB      *db.Client
	Redis   pkgredis.IdempotencyStore
	Metrics *metrics.BillingMetrics
	Logger  *logger.Logger
	// GatewayOptions are passed to the processor client; tests point it at a fake server.
	GatewayOptions []gateway.Option
	Now            func() time.Time
}

// Components is the wired billing graph.
type Components struct {
	Signer        *signature.Signer
	Gateway       *gateway.Client
	Outbox        *outbox.Service
	OutboxRepo    *outbox.Repository
	PaymentRepo   payments.Repository
	Finalizer     *payments.Finalizer
	Payments      *payments.Service
	Purchases     *purchases.Recorder
	Subscriptions *subscriptions.Engine
	Reconciler    *webhooks.Reconciler
}

// Build wires every billing component. Nothing here talks to the network.
func Build(deps Deps) (*Components, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("db client is required")
	}
	if deps.Redis == nil {
		return nil, errors.New("redis store is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg := deps.Config
	conn := deps.DB.DB()

	signer := signature.NewSigner(cfg.Gateway)
	gatewayClient, err := gateway.NewClient(cfg.Gateway, signer, deps.GatewayOptions...)
	if err != nil {
		return nil, fmt.Errorf("gateway client: %w", err)
	}

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, deps.Logger)
	paymentRepo := payments.NewRepository(conn)

	finalizer, err := payments.NewFinalizer(payments.FinalizerParams{
		Repo:    paymentRepo,
		Outbox:  emitter,
		Metrics: deps.Metrics,
		Logger:  deps.Logger,
		Now:     deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("payment finalizer: %w", err)
	}

	recorder, err := purchases.NewRecorder(purchases.RecorderParams{
		Repo:   purchases.NewRepository(conn),
		Outbox: emitter,
		Logger: deps.Logger,
		Now:    deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("purchase recorder: %w", err)
	}

	engine, err := subscriptions.NewEngine(subscriptions.EngineParams{
		Repo:              subscriptions.NewRepository(conn),
		Payments:          paymentRepo,
		Finalizer:         finalizer,
		Gateway:           gatewayClient,
		Outbox:            emitter,
		TransactionRunner: deps.DB,
		Metrics:           deps.Metrics,
		Logger:            deps.Logger,
		MaxFailedAttempts: cfg.Billing.MaxFailedChargeAttempt,
		SweepPageSize:     cfg.Billing.SweepPageSize,
		Now:               deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("subscription engine: %w", err)
	}

	guard, err := idempotency.NewLedger(deps.Redis, webhookGuardScope, cfg.Billing.WebhookIdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook guard: %w", err)
	}

	reconciler, err := webhooks.NewReconciler(webhooks.ReconcilerParams{
		Verifier:          signer,
		Transactions:      gatewayClient,
		Payments:          paymentRepo,
		Finalizer:         finalizer,
		Purchases:         recorder,
		Subscriptions:     engine,
		Guard:             guard,
		TransactionRunner: deps.DB,
		Metrics:           deps.Metrics,
		Logger:            deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook reconciler: %w", err)
	}

	resolver, err := pricing.NewResolver(pricing.Params{
		Repo:               pricing.NewRepository(conn),
		MinimumAmountCents: cfg.Billing.MinimumAmountCents,
		DefaultCurrency:    cfg.Gateway.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("price resolver: %w", err)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:     paymentRepo,
		Resolver: resolver,
		Signer:   signer,
		Gateway:  gatewayClient,
		Applier:  reconciler,
		Config:   cfg.Gateway,
		Metrics:  deps.Metrics,
		Logger:   deps.Logger,
		Now:      deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}

	return &Components{
		Signer:        signer,
		Gateway:       gatewayClient,
		Outbox:        emitter,
		OutboxRepo:    outboxRepo,
		PaymentRepo:   paymentRepo,
		Finalizer:     finalizer,
		Payments:      paymentService,
		Purchases:     recorder,
		Subscriptions: engine,
		Reconciler:    reconciler,
	}, nil
}
