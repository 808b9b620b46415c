package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// Subscription persists entitlement state per user. A partial unique index
// keeps at most one active-like (active/past_due) record per user; canceled
// and expired rows stay behind as history.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                 uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	ProviderSubscriptionID string                   `gorm:"column:provider_subscription_id;not null;unique"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:text;not null;default:'active'"`
	PeriodStart            time.Time                `gorm:"column:period_start;not null"`
	PeriodEnd              time.Time                `gorm:"column:period_end;not null"`
	CanceledAt             *time.Time               `gorm:"column:canceled_at"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
