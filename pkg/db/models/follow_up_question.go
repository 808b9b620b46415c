package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// FollowUpQuestion is a billable sub-job parented to a completed analysis.
// Its lifecycle is independent of the parent; a failed question never
// touches the parent row.
type FollowUpQuestion struct {
	ID           uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AnalysisID   uuid.UUID            `gorm:"column:analysis_id;type:uuid;not null;index"`
	UserID       uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	Question     string               `gorm:"column:question;not null"`
	Answer       *string              `gorm:"column:answer"`
	Status       enums.FollowUpStatus `gorm:"column:status;type:text;not null;default:'generating'"`
	ErrorMessage *string              `gorm:"column:error_message"`
	CreditsUsed  int                  `gorm:"column:credits_used;not null;default:0"`
	CompletedAt  *time.Time           `gorm:"column:completed_at"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
