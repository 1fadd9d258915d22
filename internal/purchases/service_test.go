package purchases

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/db"
	"github.com/angelmondragon/payrecon/pkg/db/dbtest"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/outbox"
)

func newRecorder(t *testing.T) (*Recorder, *db.Client) {
	t.Helper()
	client := dbtest.Open(t)
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), nil)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	recorder, err := NewRecorder(RecorderParams{
		Repo:   NewRepository(client.DB()),
		Outbox: emitter,
		Now:    func() time.Time { return fixed },
	})
	require.NoError(t, err)
	return recorder, client
}

func approvedCoursePayment() *models.Payment {
	courseID := uuid.New()
	return &models.Payment{
		ID:            uuid.New(),
		Reference:     "01HZX3REF",
		UserID:        uuid.New(),
		AmountInCents: 50000,
		Currency:      "COP",
		Status:        enums.PaymentStatusApproved,
		ProductType:   enums.ProductTypeCourse,
		ProductID:     &courseID,
		CustomerEmail: "buyer@example.com",
	}
}

func countRows(t *testing.T, client *db.Client, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, client.DB().Model(model).Count(&n).Error)
	return n
}

func TestRecordIsIdempotentPerPayment(t *testing.T) {
	recorder, client := newRecorder(t)
	payment := approvedCoursePayment()
	ctx := context.Background()

	var first, second *models.Purchase
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		first, err = recorder.Record(ctx, tx, payment)
		return err
	}))
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		second, err = recorder.Record(ctx, tx, payment)
		return err
	}))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(50000), first.PriceInCents)
	assert.Equal(t, int64(1), countRows(t, client, &models.Purchase{}))
	assert.Equal(t, int64(1), countRows(t, client, &models.OutboxEvent{}))

	owned, err := recorder.HasPurchased(ctx, payment.UserID, *payment.ProductID, enums.ProductTypeCourse)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = recorder.HasPurchased(ctx, uuid.New(), *payment.ProductID, enums.ProductTypeCourse)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestRecordRejectsUnapprovedOrPlanPayments(t *testing.T) {
	recorder, client := newRecorder(t)
	ctx := context.Background()

	pending := approvedCoursePayment()
	pending.Status = enums.PaymentStatusPending
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := recorder.Record(ctx, tx, pending)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	plan := approvedCoursePayment()
	plan.ProductType = enums.ProductTypePlan
	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := recorder.Record(ctx, tx, plan)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, int64(0), countRows(t, client, &models.Purchase{}))
}

func TestRecordRollsBackWithCallerTransaction(t *testing.T) {
	recorder, client := newRecorder(t)
	ctx := context.Background()
	payment := approvedCoursePayment()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := recorder.Record(ctx, tx, payment); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInternal, "later step failed")
	})
	require.Error(t, err)
	assert.Equal(t, int64(0), countRows(t, client, &models.Purchase{}))
	assert.Equal(t, int64(0), countRows(t, client, &models.OutboxEvent{}))
}

func TestListForUser(t *testing.T) {
	recorder, client := newRecorder(t)
	ctx := context.Background()
	payment := approvedCoursePayment()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := recorder.Record(ctx, tx, payment)
		return err
	}))

	rows, err := recorder.ListForUser(ctx, payment.UserID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, payment.ID, rows[0].PaymentID)

	_, err = recorder.HasPurchased(ctx, uuid.Nil, uuid.New(), enums.ProductTypeCourse)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
