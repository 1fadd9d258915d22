package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/internal/pricing"
	"github.com/angelmondragon/payrecon/internal/purchases"
	"github.com/angelmondragon/payrecon/internal/subscriptions"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/db/dbtest"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
	"github.com/angelmondragon/payrecon/pkg/outbox"
	"github.com/angelmondragon/payrecon/pkg/outbox/idempotency"
	"github.com/angelmondragon/payrecon/pkg/signature"
)

const testEventsSecret = "test_events_secret"

type memoryStore struct {
	keys map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	return m.keys[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "payrecon:idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type transactionGateway struct {
	transactions map[string]gateway.Transaction
	charges      int
}

func (g *transactionGateway) GetTransaction(_ context.Context, id string) (*gateway.Transaction, error) {
	txn, ok := g.transactions[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return &txn, nil
}

func (g *transactionGateway) CreatePaymentSource(context.Context, string, string, string) (*gateway.PaymentSource, error) {
	return nil, errors.New("not used")
}

func (g *transactionGateway) WaitForPaymentSourceAvailable(context.Context, gateway.ID) (*gateway.PaymentSource, error) {
	return nil, errors.New("not used")
}

func (g *transactionGateway) ChargeWithPaymentSource(_ context.Context, req gateway.ChargeRequest) (*gateway.Transaction, error) {
	g.charges++
	return &gateway.Transaction{ID: gateway.ID("renewal-" + req.Reference), Reference: req.Reference, Status: "PENDING"}, nil
}

type outcomeCounter map[string]int

func (c outcomeCounter) Webhook(outcome string) { c[outcome]++ }

type harness struct {
	client     *db.Client
	signer     *signature.Signer
	gateway    *transactionGateway
	payments   *payments.Service
	engine     *subscriptions.Engine
	reconciler *Reconciler
	store      *memoryStore
	outcomes   outcomeCounter
	course     models.Course
	plan       models.PricingPlan
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	cfg := config.GatewayConfig{PublicKey: "pub_test", IntegritySecret: "test_integrity", EventsSecret: testEventsSecret, Currency: "COP"}
	h := &harness{
		client:   client,
		signer:   signature.NewSigner(cfg),
		gateway:  &transactionGateway{transactions: map[string]gateway.Transaction{}},
		store:    &memoryStore{keys: map[string]string{}},
		outcomes: outcomeCounter{},
	}

	h.course = models.Course{ID: uuid.New(), Title: "Go in practice", PriceCents: 50000, Currency: "COP"}
	h.plan = models.PricingPlan{ID: uuid.New(), Name: "Pro", PlanType: "PRO", MonthlyPriceCents: 2990000, AnnualPriceCents: 29900000, Currency: "COP", BillingInterval: enums.BillingCycleMonthly}
	require.NoError(t, client.DB().Create(&h.course).Error)
	require.NoError(t, client.DB().Create(&h.plan).Error)

	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	paymentRepo := payments.NewRepository(client.DB())
	finalizer, err := payments.NewFinalizer(payments.FinalizerParams{Repo: paymentRepo, Outbox: emitter})
	require.NoError(t, err)
	recorder, err := purchases.NewRecorder(purchases.RecorderParams{Repo: purchases.NewRepository(client.DB()), Outbox: emitter})
	require.NoError(t, err)
	h.engine, err = subscriptions.NewEngine(subscriptions.EngineParams{
		Repo:              subscriptions.NewRepository(client.DB()),
		Payments:          paymentRepo,
		Finalizer:         finalizer,
		Gateway:           h.gateway,
		Outbox:            emitter,
		TransactionRunner: client,
	})
	require.NoError(t, err)
	guard, err := idempotency.NewLedger(h.store, "gateway-webhook", time.Hour)
	require.NoError(t, err)
	h.reconciler, err = NewReconciler(ReconcilerParams{
		Verifier:          h.signer,
		Transactions:      h.gateway,
		Payments:          paymentRepo,
		Finalizer:         finalizer,
		Purchases:         recorder,
		Subscriptions:     h.engine,
		Guard:             guard,
		TransactionRunner: client,
		Metrics:           h.outcomes,
	})
	require.NoError(t, err)

	resolver, err := pricing.NewResolver(pricing.Params{Repo: pricing.NewRepository(client.DB()), DefaultCurrency: "COP"})
	require.NoError(t, err)
	h.payments, err = payments.NewService(payments.ServiceParams{Repo: paymentRepo, Resolver: resolver, Signer: h.signer, Config: cfg})
	require.NoError(t, err)
	return h
}

// signedEvent builds a transaction.updated delivery the way the processor
// signs it.
func (h *harness) signedEvent(t *testing.T, txn map[string]any, sentAt int64) *Event {
	t.Helper()
	data, err := json.Marshal(map[string]any{"transaction": txn})
	require.NoError(t, err)
	props := []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"}
	checksum, err := h.signer.WebhookChecksum(props, data, sentAt)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"event":       EventTransactionUpdated,
		"data":        json.RawMessage(data),
		"environment": "test",
		"signature":   map[string]any{"properties": props, "checksum": checksum},
		"timestamp":   sentAt,
		"sent_at":     "2026-05-15T06:00:00.000Z",
	})
	require.NoError(t, err)
	event, err := ParseEvent(body)
	require.NoError(t, err)
	return event
}

func (h *harness) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	query := h.client.DB().Model(model)
	if where != "" {
		query = query.Where(where, args...)
	}
	require.NoError(t, query.Count(&n).Error)
	return n
}

func (h *harness) payment(t *testing.T, reference string) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, h.client.DB().First(&p, "reference = ?", reference).Error)
	return p
}

func TestCoursePaymentApprovedRecordsOnePurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()

	initiated, err := h.payments.Initiate(ctx, payments.InitiateInput{
		UserID:        userID,
		ProductType:   enums.ProductTypeCourse,
		ProductID:     &h.course.ID,
		CustomerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	pending := h.payment(t, initiated.Reference)
	assert.Equal(t, enums.PaymentStatusPending, pending.Status)
	assert.Equal(t, int64(50000), pending.AmountInCents)

	txn := map[string]any{
		"id":                  "1234-1610641025-49201",
		"amount_in_cents":     50000,
		"reference":           initiated.Reference,
		"customer_email":      "buyer@example.com",
		"currency":            "COP",
		"payment_method_type": "NEQUI",
		"status":              "APPROVED",
	}
	outcome, err := h.reconciler.HandleEvent(ctx, h.signedEvent(t, txn, 1747288800))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	approved := h.payment(t, initiated.Reference)
	assert.Equal(t, enums.PaymentStatusApproved, approved.Status)
	require.NotNil(t, approved.FinalizedAt)

	// redelivery with a new timestamp bypasses the redis guard and must still be a no-op
	outcome, err = h.reconciler.HandleEvent(ctx, h.signedEvent(t, txn, 1747288900))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	var purchase models.Purchase
	require.NoError(t, h.client.DB().First(&purchase, "payment_id = ?", approved.ID).Error)
	assert.Equal(t, int64(50000), purchase.PriceInCents)
	assert.Equal(t, int64(1), h.count(t, &models.Purchase{}, ""))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentFinalized))
}

func TestDuplicateDeliveryIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	initiated, err := h.payments.Initiate(ctx, payments.InitiateInput{UserID: uuid.New(), ProductType: enums.ProductTypeCourse, ProductID: &h.course.ID, CustomerEmail: "a@b.co"})
	require.NoError(t, err)

	event := h.signedEvent(t, map[string]any{"id": "tx-1", "amount_in_cents": 50000, "reference": initiated.Reference, "status": "DECLINED"}, 1747288800)
	_, err = h.reconciler.HandleEvent(ctx, event)
	require.NoError(t, err)
	outcome, err := h.reconciler.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, 1, h.outcomes[OutcomeDuplicate])
	assert.Equal(t, int64(0), h.count(t, &models.Purchase{}, ""))
}

func TestTamperedEventIsRejectedWithoutMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	initiated, err := h.payments.Initiate(ctx, payments.InitiateInput{UserID: uuid.New(), ProductType: enums.ProductTypeCourse, ProductID: &h.course.ID, CustomerEmail: "a@b.co"})
	require.NoError(t, err)

	event := h.signedEvent(t, map[string]any{"id": "tx-1", "amount_in_cents": 50000, "reference": initiated.Reference, "status": "DECLINED"}, 1747288800)
	event.Data = json.RawMessage(fmt.Sprintf(`{"transaction":{"id":"tx-1","amount_in_cents":50000,"reference":%q,"status":"APPROVED"}}`, initiated.Reference))

	outcome, err := h.reconciler.HandleEvent(ctx, event)
	require.Error(t, err)
	assert.Equal(t, OutcomeInvalidSignature, outcome)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))
	assert.Equal(t, enums.PaymentStatusPending, h.payment(t, initiated.Reference).Status)
	assert.Empty(t, h.store.keys)
}

func TestUnknownReferenceReleasesGuard(t *testing.T) {
	h := newHarness(t)
	event := h.signedEvent(t, map[string]any{"id": "tx-9", "amount_in_cents": 100, "reference": "missing", "status": "APPROVED"}, 1747288800)

	_, err := h.reconciler.HandleEvent(context.Background(), event)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, h.store.keys)
}

func TestApprovedCardPlanPaymentStartsOneSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	initiated, err := h.payments.Initiate(ctx, payments.InitiateInput{
		UserID:        userID,
		ProductType:   enums.ProductTypePlan,
		PlanID:        &h.plan.ID,
		PlanType:      "pro",
		CustomerEmail: "member@example.com",
	})
	require.NoError(t, err)

	txn := map[string]any{
		"id":                  "tx-plan-1",
		"amount_in_cents":     2990000,
		"reference":           initiated.Reference,
		"status":              "APPROVED",
		"payment_method_type": "CARD",
		"payment_source_id":   3891,
	}
	_, err = h.reconciler.HandleEvent(ctx, h.signedEvent(t, txn, 1747288800))
	require.NoError(t, err)
	_, err = h.reconciler.HandleEvent(ctx, h.signedEvent(t, txn, 1747288999))
	require.NoError(t, err)

	subs, err := h.engine.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, enums.SubscriptionStatusActive, subs[0].Status)
	assert.Equal(t, "3891", *subs[0].PaymentSourceID)
	assert.Equal(t, enums.BillingCycleMonthly, subs[0].BillingCycle)
}

func TestApprovedNonCardPlanPaymentCreatesNoSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	initiated, err := h.payments.Initiate(ctx, payments.InitiateInput{UserID: userID, ProductType: enums.ProductTypePlan, PlanID: &h.plan.ID, PlanType: "PRO", CustomerEmail: "m@example.com"})
	require.NoError(t, err)

	_, err = h.reconciler.HandleEvent(ctx, h.signedEvent(t, map[string]any{
		"id": "tx-pse", "amount_in_cents": 2990000, "reference": initiated.Reference, "status": "APPROVED", "payment_method_type": "PSE",
	}, 1747288800))
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.count(t, &models.Subscription{}, "user_id = ?", userID))
	assert.Equal(t, enums.PaymentStatusApproved, h.payment(t, initiated.Reference).Status)
}

func TestPendingRenewalSettledByWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	source := "3891"
	start := time.Date(2026, 4, 15, 6, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		UserID:             uuid.New(),
		PlanID:             h.plan.ID,
		PaymentSourceID:    &source,
		CustomerEmail:      "member@example.com",
		Status:             enums.SubscriptionStatusActive,
		BillingCycle:       enums.BillingCycleMonthly,
		AmountCents:        2990000,
		Currency:           "COP",
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   start.AddDate(0, 1, 0),
		NextChargeAt:       start.AddDate(0, 1, 0),
	}
	require.NoError(t, h.client.DB().Create(sub).Error)

	result, err := h.engine.Renew(ctx, sub.UserID, sub.ID)
	require.NoError(t, err)
	require.Equal(t, subscriptions.RenewalPending, result.Outcome)

	txn := map[string]any{"id": "renewal-" + result.Payment.Reference, "amount_in_cents": 2990000, "reference": result.Payment.Reference, "status": "APPROVED", "payment_method_type": "CARD"}
	_, err = h.reconciler.HandleEvent(ctx, h.signedEvent(t, txn, 1747288800))
	require.NoError(t, err)
	_, err = h.reconciler.HandleEvent(ctx, h.signedEvent(t, txn, 1747288801))
	require.NoError(t, err)

	var stored models.Subscription
	require.NoError(t, h.client.DB().First(&stored, "id = ?", sub.ID).Error)
	assert.True(t, stored.CurrentPeriodStart.Equal(start.AddDate(0, 1, 0)))
	assert.True(t, stored.CurrentPeriodEnd.Equal(start.AddDate(0, 2, 0)))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventSubscriptionRenewed))
}

func TestVerifyByTransactionIDChecksOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	initiated, err := h.payments.Initiate(ctx, payments.InitiateInput{UserID: userID, ProductType: enums.ProductTypeCourse, ProductID: &h.course.ID, CustomerEmail: "a@b.co"})
	require.NoError(t, err)
	h.gateway.transactions["tx-77"] = gateway.Transaction{ID: "tx-77", Reference: initiated.Reference, Status: "APPROVED", AmountInCents: 50000}

	_, err = h.reconciler.VerifyByTransactionID(ctx, uuid.New(), "tx-77")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	payment, err := h.reconciler.VerifyByTransactionID(ctx, userID, "tx-77")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusApproved, payment.Status)
	assert.Equal(t, int64(1), h.count(t, &models.Purchase{}, "user_id = ?", userID))
}

func TestParseEventRequiresFields(t *testing.T) {
	_, err := ParseEvent([]byte(`{"event":"transaction.updated","data":{"transaction":{}},"timestamp":1}`))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, map[string]any{"missing": []string{"signature.properties", "signature.checksum"}}, typed.Details())

	_, err = ParseEvent([]byte(`not json`))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNonTransactionEventsAreIgnored(t *testing.T) {
	h := newHarness(t)
	data := json.RawMessage(`{"nequi_token":{"id":"nequi_test_1"}}`)
	props := []string{"nequi_token.id"}
	checksum, err := h.signer.WebhookChecksum(props, data, 1747288800)
	require.NoError(t, err)

	outcome, err := h.reconciler.HandleEvent(context.Background(), &Event{
		Event:     "nequi_token.updated",
		Data:      data,
		Signature: EventSignature{Properties: props, Checksum: checksum},
		Timestamp: 1747288800,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}
