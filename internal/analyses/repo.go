package analyses

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/pkg/db"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// NaturalKey identifies one unit of billable work. The partial unique index
// over its columns (excluding failed rows) makes creation idempotent at the
// storage layer.
type NaturalKey struct {
	UserID    uuid.UUID
	ProfileID uuid.UUID
	Kind      enums.AnalysisKind
	Period    string
}

// Repository manages persistence for analysis jobs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateIfAbsent(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisJob, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	GetByNaturalKey(ctx context.Context, key NaturalKey) (*models.AnalysisJob, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.AnalysisStatus, mutations map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an analysis job repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateIfAbsent inserts the job and lets the natural-key unique index decide
// the winner under concurrency. The loser fetches and returns the surviving
// row with created=false.
func (r *repository) CreateIfAbsent(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisJob, bool, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, false, err
	}

	existing, lookupErr := r.GetByNaturalKey(ctx, NaturalKey{
		UserID:    job.UserID,
		ProfileID: job.ProfileID,
		Kind:      job.Kind,
		Period:    job.Period,
	})
	if lookupErr != nil {
		return nil, false, lookupErr
	}
	if existing == nil {
		// The winner vanished between the insert and the lookup; surface the
		// original conflict so the caller can retry.
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// GetByNaturalKey returns the live (non-failed) job for the key, if any.
func (r *repository) GetByNaturalKey(ctx context.Context, key NaturalKey) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	err := r.db.WithContext(ctx).
		Where(
			"user_id = ? AND profile_id = ? AND kind = ? AND period = ? AND status <> ?",
			key.UserID, key.ProfileID, key.Kind, key.Period, enums.AnalysisStatusFailed,
		).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// Transition moves the job from one status to another with a conditional
// update. False means the row was not in the expected source state.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.AnalysisStatus, mutations map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for column, value := range mutations {
		updates[column] = value
	}

	result := r.db.WithContext(ctx).
		Model(&models.AnalysisJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
