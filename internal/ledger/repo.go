package ledger

import (
	"context"
	stdErrors "errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/pineoslabs/referral-ledger/pkg/db"
	"github.com/pineoslabs/referral-ledger/pkg/db/models"
	"github.com/pineoslabs/referral-ledger/pkg/enums"
)

// Repository manages persistence for ledger entries and balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindEntryByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	FindReversalOf(ctx context.Context, entryID uuid.UUID) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, filter ListFilter) ([]models.LedgerEntry, error)
	GetBalanceForUpdate(ctx context.Context, userID string) (*models.UserBalance, error)
	SaveBalance(ctx context.Context, balance *models.UserBalance) error
	FindBalance(ctx context.Context, userID string) (*models.UserBalance, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindEntryByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindReversalOf(ctx context.Context, entryID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("entry_type = ? AND related_entry_id = ?", enums.EntryTypeReversal, entryID).
		First(&entry).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListEntries(ctx context.Context, filter ListFilter) ([]models.LedgerEntry, error) {
	q := r.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var entries []models.LedgerEntry
	if err := q.Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// GetBalanceForUpdate loads the user's balance row under a row lock, creating
// a zero balance when the user has no row yet. Must run inside a transaction
// so the lock holds until commit.
func (r *repository) GetBalanceForUpdate(ctx context.Context, userID string) (*models.UserBalance, error) {
	balance, err := r.lockBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance != nil {
		return balance, nil
	}

	fresh := models.UserBalance{UserID: userID, BalanceCents: 0, Version: 1}
	if err := r.db.WithContext(ctx).Create(&fresh).Error; err != nil {
		// lost the creation race, the existing row is what we want
		if dbpkg.IsUniqueViolation(err, "user_balances_pkey") {
			return r.lockBalance(ctx, userID)
		}
		return nil, err
	}
	return &fresh, nil
}

func (r *repository) lockBalance(ctx context.Context, userID string) (*models.UserBalance, error) {
	q := r.db.WithContext(ctx)
	// SQLite serializes writers on its own and rejects FOR UPDATE
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var balance models.UserBalance
	err := q.Where("user_id = ?", userID).First(&balance).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) SaveBalance(ctx context.Context, balance *models.UserBalance) error {
	return r.db.WithContext(ctx).Save(balance).Error
}

func (r *repository) FindBalance(ctx context.Context, userID string) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
