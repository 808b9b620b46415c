package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// User represents the canonical identity entity. Identity issuance happens
// upstream; this service only needs the row for ownership checks and the
// denormalized subscription status.
type User struct {
	ID                 uuid.UUID                 `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email              string                    `gorm:"type:text;not null;uniqueIndex"`
	DisplayName        *string                   `gorm:"column:display_name"`
	SubscriptionStatus *enums.SubscriptionStatus `gorm:"column:subscription_status;type:text"`
	IsActive           bool                      `gorm:"column:is_active;not null;default:true"`
	CreatedAt          time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
