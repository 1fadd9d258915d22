package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/db/dbtest"
	"github.com/angelmondragon/payrecon/pkg/enums"
)

func TestEmitStoresEnvelopeInTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()
	aggregateID := uuid.New()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventPaymentFinalized,
			AggregateType: enums.AggregatePayment,
			AggregateID:   aggregateID,
			Data:          map[string]string{"reference": "REF1"},
		})
	})
	require.NoError(t, err)

	rows, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, aggregateID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.JSONEq(t, `{"reference":"REF1"}`, string(envelope.Data))
}

func TestEmitTakesActorFromContext(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	userID := uuid.New()
	ctx := WithUserActor(context.Background(), userID)

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		})
	})
	require.NoError(t, err)

	rows, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, SourceAPI, envelope.Actor.Source)
	require.NotNil(t, envelope.Actor.UserID)
	assert.Equal(t, userID, *envelope.Actor.UserID)
}

func TestActorFromContextWithoutActor(t *testing.T) {
	assert.Nil(t, ActorFromContext(context.Background()))
	ctx := WithActor(context.Background(), ActorRef{Source: SourceScheduler})
	actor := ActorFromContext(ctx)
	require.NotNil(t, actor)
	assert.Nil(t, actor.UserID)
	assert.Equal(t, SourceScheduler, actor.Source)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	boom := errors.New("boom")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventPurchaseRecorded,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventPaymentFinalized})
	assert.Error(t, err)

	client := dbtest.Open(t)
	svc = NewService(NewRepository(client.DB()), nil)
	err = svc.Emit(context.Background(), client.DB(), DomainEvent{EventType: "order.created"})
	assert.Error(t, err)
}

func TestEmitStampsClockAndULID(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	fixed := time.Date(2026, 4, 2, 15, 30, 0, 0, time.FixedZone("COT", -5*3600))
	svc := NewService(repo, nil, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	require.NoError(t, svc.Emit(ctx, client.DB(), DomainEvent{
		EventType:     enums.EventSubscriptionRenewalFailed,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
		Data:          map[string]int{"failed_attempts": 2},
	}))

	rows, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.True(t, envelope.OccurredAt.Equal(fixed))
	assert.Equal(t, time.UTC, envelope.OccurredAt.Location())
	_, err = ulid.ParseStrict(envelope.EventID)
	assert.NoError(t, err)
}

func TestEmitIfNotExistsSkipsDuplicates(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()
	aggregateID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventPaymentFinalized,
		AggregateType: enums.AggregatePayment,
		AggregateID:   aggregateID,
		Data:          map[string]string{"status": "APPROVED"},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(ctx, tx, event)
		}))
	}

	rows, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRepositoryPublishAndFailureBookkeeping(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(ctx, client.DB(), DomainEvent{
			EventType:     enums.EventSubscriptionRenewed,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"i": i},
		}))
	}
	rows, err := repo.FetchUnpublished(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.NoError(t, repo.MarkPublished(ctx, rows[0].ID))
	require.NoError(t, repo.MarkFailed(ctx, rows[1].ID, errors.New("pubsub unavailable")))
	require.NoError(t, repo.MarkDead(ctx, rows[2].ID, 3, errors.New("bad payload")))

	pending, err := repo.FetchUnpublished(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rows[1].ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].AttemptCount)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "pubsub unavailable", *pending[0].LastError)

	all, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRepositoryTransactionalPublishBookkeeping(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Emit(ctx, client.DB(), DomainEvent{
			EventType:     enums.EventPaymentFinalized,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"i": i},
		}))
	}

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchForPublish(tx, 10, 5)
		if err != nil {
			return err
		}
		require.Len(t, rows, 2)
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		return repo.MarkDeadTx(tx, rows[1].ID, 5, errors.New("unsupported event type"))
	}))

	pending, err := repo.FetchUnpublished(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPruneBeforeKeepsPendingRows(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(ctx, client.DB(), DomainEvent{
			EventType:     enums.EventPurchaseRecorded,
			AggregateType: enums.AggregatePurchase,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"i": i},
		}))
	}
	rows, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.NoError(t, repo.MarkPublished(ctx, rows[0].ID))
	require.NoError(t, repo.MarkDead(ctx, rows[1].ID, 4, errors.New("bad payload")))

	filter := PruneFilter{Cutoff: time.Now().UTC().Add(time.Hour), DeadAfter: 4, Limit: 1}
	var batches []int64
	for i := 0; i < 3; i++ {
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			deleted, err := repo.PruneBefore(ctx, tx, filter)
			batches = append(batches, deleted)
			return err
		}))
	}
	assert.Equal(t, []int64{1, 1, 0}, batches)

	remaining, err := repo.FetchUnpublished(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, rows[2].ID, remaining[0].ID)
}
