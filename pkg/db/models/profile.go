package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is an analysis subject saved by a user. Birth data feeds the
// generation prompt; the core only needs ownership and display fields.
type Profile struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	Name       string     `gorm:"column:name;not null"`
	BirthDate  time.Time  `gorm:"column:birth_date;not null"`
	BirthTime  *string    `gorm:"column:birth_time"`
	BirthPlace *string    `gorm:"column:birth_place"`
	Gender     *string    `gorm:"column:gender"`
	DeletedAt  *time.Time `gorm:"column:deleted_at;index"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
