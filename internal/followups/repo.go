package followups

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// Repository manages persistence for follow-up questions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, question *models.FollowUpQuestion) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FollowUpQuestion, error)
	ListByAnalysisID(ctx context.Context, analysisID uuid.UUID) ([]models.FollowUpQuestion, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.FollowUpStatus, mutations map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a follow-up question repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, question *models.FollowUpQuestion) error {
	if question.ID == uuid.Nil {
		question.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(question).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.FollowUpQuestion, error) {
	var question models.FollowUpQuestion
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &question, nil
}

func (r *repository) ListByAnalysisID(ctx context.Context, analysisID uuid.UUID) ([]models.FollowUpQuestion, error) {
	var questions []models.FollowUpQuestion
	err := r.db.WithContext(ctx).
		Where("analysis_id = ?", analysisID).
		Order("created_at ASC").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// Transition moves the question between lifecycle states with a conditional
// update guarded on the source state.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.FollowUpStatus, mutations map[string]any) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for column, value := range mutations {
		updates[column] = value
	}

	result := r.db.WithContext(ctx).
		Model(&models.FollowUpQuestion{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
