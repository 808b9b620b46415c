package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// AnalysisJob is one unit of billable generated work. The partial unique
// index over (user_id, profile_id, kind, period) excluding failed rows is the
// idempotency backstop for concurrent admission.
type AnalysisJob struct {
	ID          uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	ProfileID   uuid.UUID            `gorm:"column:profile_id;type:uuid;not null"`
	Kind        enums.AnalysisKind   `gorm:"column:kind;type:text;not null"`
	Period      string               `gorm:"column:period;not null"`
	Status      enums.AnalysisStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Payload     json.RawMessage      `gorm:"column:payload;type:jsonb"`
	ErrorReason *string              `gorm:"column:error_reason"`
	CreditsUsed int                  `gorm:"column:credits_used;not null;default:0"`
	StartedAt   *time.Time           `gorm:"column:started_at"`
	CompletedAt *time.Time           `gorm:"column:completed_at"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
