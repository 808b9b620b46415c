package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditAccount holds the consumable balance for one user. The balance is
// mutated only through conditional updates so it can never go negative under
// concurrent debits.
type CreditAccount struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	Balance       int       `gorm:"column:balance;not null;default:0"`
	FirstFreeUsed bool      `gorm:"column:first_free_used;not null;default:false"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
