package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// Repository manages persistence for subscriptions and the denormalized
// user status flag. Lifecycle transitions are conditional updates guarded on
// the current status so the sweep and read-repair can run concurrently.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetByProviderID(ctx context.Context, providerID string) (*models.Subscription, error)
	GetLatestActiveLike(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListExpiredActiveLike(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkCanceled(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error)
	MarkPastDue(ctx context.Context, providerID string) (bool, error)
	RenewPeriod(ctx context.Context, providerID string, periodStart, periodEnd time.Time) (bool, error)
	SetUserSubscriptionStatus(ctx context.Context, userID uuid.UUID, status enums.SubscriptionStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) GetByProviderID(ctx context.Context, providerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider_subscription_id = ?", providerID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) GetLatestActiveLike(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, activeLikeStatuses()).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListExpiredActiveLike(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	q := r.db.WithContext(ctx).
		Where("status IN ? AND period_end < ?", activeLikeStatuses(), now).
		Order("period_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// MarkExpired transitions an active-like record to expired exactly once.
// False means a concurrent sweep or read-repair already got there.
func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN ? AND period_end < ?", id, activeLikeStatuses(), now).
		Update("status", enums.SubscriptionStatusExpired)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkCanceled cancels the user's active-like record and stamps canceled_at.
// Returns nil when no active-like record exists.
func (r *repository) MarkCanceled(ctx context.Context, userID uuid.UUID, now time.Time) (*models.Subscription, error) {
	sub, err := r.GetLatestActiveLike(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}

	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN ?", sub.ID, activeLikeStatuses()).
		Updates(map[string]any{
			"status":      enums.SubscriptionStatusCanceled,
			"canceled_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Lost a race with expiry or another cancel.
		return nil, nil
	}

	sub.Status = enums.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	return sub, nil
}

func (r *repository) MarkPastDue(ctx context.Context, providerID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("provider_subscription_id = ? AND status = ?", providerID, enums.SubscriptionStatusActive).
		Update("status", enums.SubscriptionStatusPastDue)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RenewPeriod extends an active-like record on provider renewal and restores
// active status after recovered dunning.
func (r *repository) RenewPeriod(ctx context.Context, providerID string, periodStart, periodEnd time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("provider_subscription_id = ? AND status IN ?", providerID, activeLikeStatuses()).
		Updates(map[string]any{
			"status":       enums.SubscriptionStatusActive,
			"period_start": periodStart,
			"period_end":   periodEnd,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SetUserSubscriptionStatus(ctx context.Context, userID uuid.UUID, status enums.SubscriptionStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("subscription_status", status).Error
}

func activeLikeStatuses() []enums.SubscriptionStatus {
	return []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
	}
}
