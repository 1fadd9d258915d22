package subscriptions

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

// Repository persists subscriptions. Finders return nil, nil when nothing matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// CreateIfNoLive inserts the row unless the user already holds a live
	// subscription and reports whether a row was written.
	CreateIfNoLive(ctx context.Context, sub *models.Subscription) (bool, error)
	Update(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindLiveByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListDue(ctx context.Context, query DueQuery) ([]models.Subscription, error)
}

// DefaultDuePageSize bounds one ListDue page when the query sets no limit.
const DefaultDuePageSize = 200

// DueQuery selects one page of subscriptions due at Now, ordered by
// (next_charge_at, id). Rows at MaxFailures or above are left out unless they
// are waiting for a period-end cancellation.
type DueQuery struct {
	Now         time.Time
	MaxFailures int
	After       *DueCursor
	Limit       int
}

// DueCursor is the keyset position of the last row of the previous page.
type DueCursor struct {
	NextChargeAt time.Time
	ID           uuid.UUID
}

// CursorAfter returns the position following sub.
func CursorAfter(sub models.Subscription) *DueCursor {
	return &DueCursor{NextChargeAt: sub.NextChargeAt, ID: sub.ID}
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateIfNoLive relies on ux_subscriptions_user_live. ON CONFLICT DO NOTHING
// without a target also covers the partial index.
func (r *repository) CreateIfNoLive(ctx context.Context, sub *models.Subscription) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(sub)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repository) FindLiveByUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status IN ?", userID, enums.LiveSubscriptionStatuses).
		Order("created_at DESC"))
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var rows []models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

// ListDue returns one page of active and past-due subscriptions whose next
// charge is at or before query.Now, earliest first.
func (r *repository) ListDue(ctx context.Context, query DueQuery) ([]models.Subscription, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultDuePageSize
	}
	q := r.db.WithContext(ctx).
		Where("status IN ? AND next_charge_at <= ?", enums.DueSubscriptionStatuses, query.Now)
	if query.MaxFailures > 0 {
		q = q.Where("failed_charge_attempts < ? OR cancel_at_period_end = ?", query.MaxFailures, true)
	}
	if after := query.After; after != nil {
		q = q.Where("next_charge_at > ? OR (next_charge_at = ? AND id > ?)", after.NextChargeAt, after.NextChargeAt, after.ID)
	}
	var rows []models.Subscription
	err := q.Order("next_charge_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func first(query *gorm.DB) (*models.Subscription, error) {
	var sub models.Subscription
	if err := query.First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
