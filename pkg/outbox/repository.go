package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
)

const maxErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

func (r *Repository) ExistsTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	var count int64
	err := tx.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_type = ? AND aggregate_id = ?", eventType, aggregateType, aggregateID).
		Count(&count).Error
	return count > 0, err
}

// FetchUnpublished returns the oldest pending rows that have not exhausted maxAttempts.
// A non-positive maxAttempts disables the cap.
func (r *Repository) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := unpublished(r.db.WithContext(ctx), limit, maxAttempts).Find(&rows).Error
	return rows, err
}

// FetchForPublish is FetchUnpublished inside the publisher's transaction.
// Rows are locked with SKIP LOCKED so concurrent publishers split the backlog.
func (r *Repository) FetchForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.OutboxEvent
	err := unpublished(tx, limit, maxAttempts).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Find(&rows).Error
	return rows, err
}

func unpublished(db *gorm.DB, limit, maxAttempts int) *gorm.DB {
	query := db.Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	return query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return r.MarkPublishedTx(r.db.WithContext(ctx), id)
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now().UTC(),
		}).Error
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return r.MarkFailedTx(r.db.WithContext(ctx), id, err)
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    errorText(err, "unknown error"),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkDead parks a row that can never be published by pushing its attempt
// count to the cap so FetchUnpublished stops returning it.
func (r *Repository) MarkDead(ctx context.Context, id uuid.UUID, maxAttempts int, err error) error {
	return r.MarkDeadTx(r.db.WithContext(ctx), id, maxAttempts, err)
}

func (r *Repository) MarkDeadTx(tx *gorm.DB, id uuid.UUID, maxAttempts int, err error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    errorText(err, "non-retryable"),
			"attempt_count": maxAttempts,
		}).Error
}

func errorText(err error, fallback string) string {
	msg := fallback
	if err != nil {
		msg = err.Error()
	}
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

// PruneFilter selects outbox rows that no longer need to be kept.
type PruneFilter struct {
	Cutoff time.Time
	// DeadAfter also selects unpublished rows whose attempt_count reached it.
	// Zero keeps every unpublished row.
	DeadAfter int
	Limit     int
}

// PruneBefore deletes up to filter.Limit rows published before the cutoff,
// plus dead rows created before it, and returns how many went.
func (r *Repository) PruneBefore(ctx context.Context, tx *gorm.DB, filter PruneFilter) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	if filter.Limit <= 0 {
		return 0, errors.New("prune limit must be positive")
	}
	db := tx.WithContext(ctx)
	victims := db.Model(&models.OutboxEvent{}).
		Select("id").
		Where("published_at IS NOT NULL AND published_at < ?", filter.Cutoff)
	if filter.DeadAfter > 0 {
		victims = victims.Or("published_at IS NULL AND attempt_count >= ? AND created_at < ?", filter.DeadAfter, filter.Cutoff)
	}
	victims = victims.Order("created_at").Limit(filter.Limit)

	res := db.Where("id IN (?)", victims).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
