package rules

import (
	"context"
	stdErrors "errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	baserepo "github.com/pineoslabs/referral-ledger/internal/repo"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
)

// Repository manages persistence for reward rules.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, rule *models.Rule) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Rule, error)
	List(ctx context.Context, activeOnly bool) ([]models.Rule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type repository struct {
	baserepo.Base
}

// NewRepository returns a rules repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: baserepo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: baserepo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, rule *models.Rule) error {
	return r.DB(ctx).Create(rule).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	var rule models.Rule
	err := r.DB(ctx).Where("id = ?", id).First(&rule).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) List(ctx context.Context, activeOnly bool) ([]models.Rule, error) {
	q := r.DB(ctx).Model(&models.Rule{})
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var rules []models.Rule
	if err := q.Order("created_at ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.DB(ctx).
		Model(&models.Rule{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}
