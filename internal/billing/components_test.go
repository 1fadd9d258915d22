package billing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/internal/webhooks"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db/dbtest"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	value, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			PublicKey:       "pub_test_key",
			PrivateKey:      "prv_test_key",
			IntegritySecret: "test_integrity",
			EventsSecret:    "test_events",
			Currency:        "COP",
		},
		Billing: config.BillingConfig{
			MinimumAmountCents:     100,
			MaxFailedChargeAttempt: 3,
			WebhookIdempotencyTTL:  time.Hour,
		},
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "billing-test"})
}

func TestBuildValidatesDeps(t *testing.T) {
	_, err := Build(Deps{})
	require.Error(t, err)

	_, err = Build(Deps{Config: testConfig(), DB: dbtest.Open(t), Logger: testLogger()})
	require.Error(t, err)

	cfg := testConfig()
	cfg.Gateway.PrivateKey = ""
	_, err = Build(Deps{Config: cfg, DB: dbtest.Open(t), Redis: &memoryStore{data: map[string]string{}}, Logger: testLogger()})
	require.Error(t, err)
}

func TestCoursePaymentApprovedByWebhookRecordsPurchase(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	comps, err := Build(Deps{Config: testConfig(), DB: client, Redis: &memoryStore{data: map[string]string{}}, Logger: testLogger()})
	require.NoError(t, err)

	course := models.Course{ID: uuid.New(), Title: "Go in practice", PriceCents: 50000, Currency: "COP"}
	require.NoError(t, client.DB().Create(&course).Error)

	userID := uuid.New()
	initiated, err := comps.Payments.Initiate(ctx, payments.InitiateInput{
		UserID:        userID,
		ProductType:   enums.ProductTypeCourse,
		ProductID:     &course.ID,
		CustomerEmail: "payer@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, int64(50000), initiated.Payment.AmountInCents)
	require.Equal(t, enums.PaymentStatusPending, initiated.Payment.Status)

	event := signedEvent(t, comps, map[string]any{
		"id":                  "15113-1",
		"reference":           initiated.Reference,
		"status":              "APPROVED",
		"amount_in_cents":     50000,
		"currency":            "COP",
		"customer_email":      "payer@example.com",
		"payment_method_type": "CARD",
	})

	outcome, err := comps.Reconciler.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, webhooks.OutcomeApplied, outcome)

	owned, err := comps.Purchases.HasPurchased(ctx, userID, course.ID, enums.ProductTypeCourse)
	require.NoError(t, err)
	require.True(t, owned)

	outcome, err = comps.Reconciler.HandleEvent(ctx, event)
	require.NoError(t, err)
	require.Equal(t, webhooks.OutcomeDuplicate, outcome)

	var purchaseCount int64
	require.NoError(t, client.DB().Model(&models.Purchase{}).Count(&purchaseCount).Error)
	require.Equal(t, int64(1), purchaseCount)

	var eventTypes []string
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Order("created_at").Pluck("event_type", &eventTypes).Error)
	require.ElementsMatch(t, []string{string(enums.EventPaymentFinalized), string(enums.EventPurchaseRecorded)}, eventTypes)
}

func signedEvent(t *testing.T, comps *Components, txn map[string]any) *webhooks.Event {
	t.Helper()
	data, err := json.Marshal(map[string]any{"transaction": txn})
	require.NoError(t, err)
	properties := []string{"transaction.id", "transaction.status", "transaction.amount_in_cents"}
	timestamp := time.Now().Unix()
	checksum, err := comps.Signer.WebhookChecksum(properties, data, timestamp)
	require.NoError(t, err)
	return &webhooks.Event{
		Event:     webhooks.EventTransactionUpdated,
		Data:      data,
		Signature: webhooks.EventSignature{Properties: properties, Checksum: checksum},
		Timestamp: timestamp,
	}
}
