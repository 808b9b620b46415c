package analyses

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

// Service is the job registry plus the status read path. Creation is
// idempotent on the natural key; transitions are conditional so duplicate
// worker deliveries are harmless.
type Service interface {
	WithTx(tx *gorm.DB) Service
	CreateIfAbsent(ctx context.Context, input CreateInput) (*models.AnalysisJob, bool, error)
	FindExisting(ctx context.Context, key NaturalKey) (*models.AnalysisJob, error)
	Get(ctx context.Context, analysisID, requesterID uuid.UUID) (*models.AnalysisJob, error)
	GetInternal(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error)
	Start(ctx context.Context, analysisID uuid.UUID) (bool, error)
	Complete(ctx context.Context, analysisID uuid.UUID, payload json.RawMessage) error
	Fail(ctx context.Context, analysisID uuid.UUID, reason string) error
	Dispatch(ctx context.Context, job *models.AnalysisJob)
}

// CreateInput carries an admitted job into the registry.
type CreateInput struct {
	Key         NaturalKey
	CreditsUsed int
}

// ServiceParams wires the analysis service dependencies.
type ServiceParams struct {
	Repo       Repository
	Dispatcher Dispatcher
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo       Repository
	dispatcher Dispatcher
	logger     *logger.Logger
	now        func() time.Time
}

// NewService validates params and returns the job registry service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("analyses repository required")
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
		dispatcher: s.dispatcher,
		logger:     s.logger,
		now:        s.now,
	}
}

func (s *service) CreateIfAbsent(ctx context.Context, input CreateInput) (*models.AnalysisJob, bool, error) {
	if input.Key.UserID == uuid.Nil || input.Key.ProfileID == uuid.Nil {
		return nil, false, errors.New(errors.CodeValidation, "user id and profile id are required")
	}
	if !input.Key.Kind.IsValid() {
		return nil, false, errors.New(errors.CodeValidation, fmt.Sprintf("invalid analysis kind %q", input.Key.Kind))
	}
	if input.Key.Period == "" {
		return nil, false, errors.New(errors.CodeValidation, "period is required")
	}
	if input.CreditsUsed < 0 {
		return nil, false, errors.New(errors.CodeValidation, "credits used must not be negative")
	}

	job := &models.AnalysisJob{
		UserID:      input.Key.UserID,
		ProfileID:   input.Key.ProfileID,
		Kind:        input.Key.Kind,
		Period:      input.Key.Period,
		Status:      enums.AnalysisStatusPending,
		CreditsUsed: input.CreditsUsed,
	}
	created, wasCreated, err := s.repo.CreateIfAbsent(ctx, job)
	if err != nil {
		return nil, false, errors.Wrap(errors.CodeInternal, err, "creating analysis job")
	}
	return created, wasCreated, nil
}

func (s *service) FindExisting(ctx context.Context, key NaturalKey) (*models.AnalysisJob, error) {
	job, err := s.repo.GetByNaturalKey(ctx, key)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up analysis job")
	}
	return job, nil
}

// Get enforces ownership. A missing row and a foreign row are distinct
// failure modes.
func (s *service) Get(ctx context.Context, analysisID, requesterID uuid.UUID) (*models.AnalysisJob, error) {
	if requesterID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "requester id is required")
	}

	job, err := s.GetInternal(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if job.UserID != requesterID {
		return nil, errors.New(errors.CodeForbidden, "analysis belongs to another user")
	}
	return job, nil
}

// GetInternal skips the ownership check; worker consumers use it.
func (s *service) GetInternal(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error) {
	if analysisID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "analysis id is required")
	}
	job, err := s.repo.GetByID(ctx, analysisID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading analysis job")
	}
	if job == nil {
		return nil, errors.New(errors.CodeNotFound, "analysis not found")
	}
	return job, nil
}

// Start moves pending to in_progress. False without error means another
// delivery already started the job.
func (s *service) Start(ctx context.Context, analysisID uuid.UUID) (bool, error) {
	started, err := s.repo.Transition(ctx,
		analysisID,
		enums.AnalysisStatusPending,
		enums.AnalysisStatusInProgress,
		map[string]any{"started_at": s.now().UTC()},
	)
	if err != nil {
		return false, errors.Wrap(errors.CodeInternal, err, "starting analysis job")
	}
	return started, nil
}

// Complete finishes an in_progress job; the payload is mandatory.
func (s *service) Complete(ctx context.Context, analysisID uuid.UUID, payload json.RawMessage) error {
	if len(payload) == 0 {
		return errors.New(errors.CodeValidation, "completed analysis requires a payload")
	}

	done, err := s.repo.Transition(ctx,
		analysisID,
		enums.AnalysisStatusInProgress,
		enums.AnalysisStatusCompleted,
		map[string]any{
			"payload":      payload,
			"completed_at": s.now().UTC(),
		},
	)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "completing analysis job")
	}
	if !done {
		return errors.New(errors.CodeStateConflict, "analysis is not in progress")
	}
	return nil
}

// Fail terminates the job from either non-terminal state and records the
// reason.
func (s *service) Fail(ctx context.Context, analysisID uuid.UUID, reason string) error {
	if reason == "" {
		reason = "unknown failure"
	}
	mutations := map[string]any{"error_reason": reason}

	failed, err := s.repo.Transition(ctx,
		analysisID,
		enums.AnalysisStatusInProgress,
		enums.AnalysisStatusFailed,
		mutations,
	)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failing analysis job")
	}
	if failed {
		return nil
	}

	failed, err = s.repo.Transition(ctx,
		analysisID,
		enums.AnalysisStatusPending,
		enums.AnalysisStatusFailed,
		mutations,
	)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failing analysis job")
	}
	if !failed {
		return errors.New(errors.CodeStateConflict, "analysis is already terminal")
	}
	return nil
}

// Dispatch publishes the job for the worker after the admission transaction
// commits. A publish failure leaves the job pending; monitoring surfaces
// stuck jobs.
func (s *service) Dispatch(ctx context.Context, job *models.AnalysisJob) {
	if s.dispatcher == nil || job == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		s.logger.Error(
			s.logger.WithAnalysisID(ctx, job.ID.String()),
			"failed to dispatch analysis job", err,
		)
	}
}
