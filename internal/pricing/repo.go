package pricing

import (
	"context"
	"errors"

	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository reads the catalog tables. Both lookups return nil, nil when the row is missing.
type Repository interface {
	FindPlan(ctx context.Context, id uuid.UUID) (*models.PricingPlan, error)
	FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog reader bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindPlan(ctx context.Context, id uuid.UUID) (*models.PricingPlan, error) {
	var plan models.PricingPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var course models.Course
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &course, nil
}
