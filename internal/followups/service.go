package followups

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

// Service is the sub-job registry. Questions only attach to completed,
// owned analyses; each question lives and dies on its own without touching
// the parent or its siblings.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Create(ctx context.Context, input CreateInput) (*models.FollowUpQuestion, error)
	Get(ctx context.Context, analysisID, questionID, requesterID uuid.UUID) (*models.FollowUpQuestion, error)
	GetInternal(ctx context.Context, questionID uuid.UUID) (*models.FollowUpQuestion, error)
	Complete(ctx context.Context, questionID uuid.UUID, answer string) error
	Fail(ctx context.Context, questionID uuid.UUID, message string) error
	Dispatch(ctx context.Context, question *models.FollowUpQuestion)
}

// CreateInput carries an admitted follow-up into the registry.
type CreateInput struct {
	AnalysisID  uuid.UUID
	UserID      uuid.UUID
	Question    string
	CreditsUsed int
}

// Dispatcher hands created questions to the worker out-of-band.
type Dispatcher interface {
	Dispatch(ctx context.Context, questionID uuid.UUID) error
}

// ServiceParams wires the follow-up service dependencies.
type ServiceParams struct {
	Repo       Repository
	Analyses   analyses.Service
	Dispatcher Dispatcher
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo       Repository
	analyses   analyses.Service
	dispatcher Dispatcher
	logger     *logger.Logger
	now        func() time.Time
}

// NewService validates params and returns the sub-job registry service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("followups repository required")
	}
	if params.Analyses == nil {
		return nil, fmt.Errorf("analyses service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repo,
		analyses:   params.Analyses,
		dispatcher: params.Dispatcher,
		logger:     params.Logger,
		now:        now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		repo:       s.repo.WithTx(tx),
		analyses:   s.analyses.WithTx(tx),
		dispatcher: s.dispatcher,
		logger:     s.logger,
		now:        s.now,
	}
}

// Create attaches a question to a completed, owned analysis. Repeated
// questions are separate billable rows; only the parent guard is enforced
// here.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.FollowUpQuestion, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.Question) == "" {
		return nil, errors.New(errors.CodeValidation, "question text is required")
	}
	if input.CreditsUsed < 0 {
		return nil, errors.New(errors.CodeValidation, "credits used must not be negative")
	}

	parent, err := s.analyses.Get(ctx, input.AnalysisID, input.UserID)
	if err != nil {
		return nil, err
	}
	if parent.Status != enums.AnalysisStatusCompleted {
		return nil, errors.New(errors.CodeStateConflict, "analysis is not completed yet").
			WithDetails(map[string]any{"status": parent.Status})
	}

	question := &models.FollowUpQuestion{
		AnalysisID:  parent.ID,
		UserID:      input.UserID,
		Question:    strings.TrimSpace(input.Question),
		Status:      enums.FollowUpStatusGenerating,
		CreditsUsed: input.CreditsUsed,
	}
	if err := s.repo.Create(ctx, question); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "creating follow-up question")
	}
	return question, nil
}

// Get verifies parent ownership before exposing the question. Forbidden and
// NotFound remain distinct outcomes.
func (s *service) Get(ctx context.Context, analysisID, questionID, requesterID uuid.UUID) (*models.FollowUpQuestion, error) {
	if questionID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "question id is required")
	}

	parent, err := s.analyses.Get(ctx, analysisID, requesterID)
	if err != nil {
		return nil, err
	}

	question, err := s.repo.GetByID(ctx, questionID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading follow-up question")
	}
	if question == nil || question.AnalysisID != parent.ID {
		return nil, errors.New(errors.CodeNotFound, "follow-up question not found")
	}
	return question, nil
}

// GetInternal skips ownership; worker consumers use it.
func (s *service) GetInternal(ctx context.Context, questionID uuid.UUID) (*models.FollowUpQuestion, error) {
	if questionID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "question id is required")
	}
	question, err := s.repo.GetByID(ctx, questionID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading follow-up question")
	}
	if question == nil {
		return nil, errors.New(errors.CodeNotFound, "follow-up question not found")
	}
	return question, nil
}

// Complete records the answer. Only the question row changes.
func (s *service) Complete(ctx context.Context, questionID uuid.UUID, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return errors.New(errors.CodeValidation, "completed question requires an answer")
	}

	done, err := s.repo.Transition(ctx,
		questionID,
		enums.FollowUpStatusGenerating,
		enums.FollowUpStatusCompleted,
		map[string]any{
			"answer":       answer,
			"completed_at": s.now().UTC(),
		},
	)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "completing follow-up question")
	}
	if !done {
		return errors.New(errors.CodeStateConflict, "follow-up question is not generating")
	}
	return nil
}

// Fail terminates the question with its own error; the parent analysis and
// sibling questions are untouched by construction.
func (s *service) Fail(ctx context.Context, questionID uuid.UUID, message string) error {
	if message == "" {
		message = "unknown failure"
	}

	failed, err := s.repo.Transition(ctx,
		questionID,
		enums.FollowUpStatusGenerating,
		enums.FollowUpStatusFailed,
		map[string]any{"error_message": message},
	)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failing follow-up question")
	}
	if !failed {
		return errors.New(errors.CodeStateConflict, "follow-up question is already terminal")
	}
	return nil
}

// Dispatch publishes the question for the worker after commit. A publish
// failure leaves the question generating; monitoring surfaces stuck rows.
func (s *service) Dispatch(ctx context.Context, question *models.FollowUpQuestion) {
	if s.dispatcher == nil || question == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, question.ID); err != nil {
		s.logger.Error(
			s.logger.WithField(ctx, "questionId", question.ID.String()),
			"failed to dispatch follow-up question", err,
		)
	}
}
