package credits

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/swhoho/fortune-sub003/pkg/db/models"
)

// Repository manages persistence for credit accounts. Balance mutations are
// single conditional updates so concurrent debits can never drive a balance
// negative.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error)
	EnsureAccount(ctx context.Context, userID uuid.UUID, startingBalance int) (*models.CreditAccount, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
	Credit(ctx context.Context, userID uuid.UUID, amount int) error
	ConsumeFirstFreeGrant(ctx context.Context, userID uuid.UUID) (bool, error)
	RestoreFirstFreeGrant(ctx context.Context, userID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credit account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// EnsureAccount creates the account row with the starting balance if it does
// not exist yet. Concurrent creators race on the user_id unique index; the
// loser re-reads the winner's row.
func (r *repository) EnsureAccount(ctx context.Context, userID uuid.UUID, startingBalance int) (*models.CreditAccount, error) {
	account := &models.CreditAccount{
		ID:      uuid.New(),
		UserID:  userID,
		Balance: startingBalance,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account).Error
	if err != nil {
		return nil, err
	}

	existing, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return account, nil
	}
	return existing, nil
}

// Debit subtracts amount guarded on sufficiency. False means the balance was
// too low at the moment of the update.
func (r *repository) Debit(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CreditAccount{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) Credit(ctx context.Context, userID uuid.UUID, amount int) error {
	result := r.db.WithContext(ctx).
		Model(&models.CreditAccount{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ConsumeFirstFreeGrant flips first_free_used exactly once. False means a
// racing request already consumed the grant.
func (r *repository) ConsumeFirstFreeGrant(ctx context.Context, userID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CreditAccount{}).
		Where("user_id = ? AND first_free_used = ?", userID, false).
		Update("first_free_used", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RestoreFirstFreeGrant hands the grant back after a consume whose job never
// materialized. A no-op when the flag is already clear.
func (r *repository) RestoreFirstFreeGrant(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CreditAccount{}).
		Where("user_id = ? AND first_free_used = ?", userID, true).
		Update("first_free_used", false).Error
}
