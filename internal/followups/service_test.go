package followups

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type fakeRepository struct {
	questions map[uuid.UUID]*models.FollowUpQuestion
	createErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{questions: map[uuid.UUID]*models.FollowUpQuestion{}}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) Create(ctx context.Context, question *models.FollowUpQuestion) error {
	if f.createErr != nil {
		return f.createErr
	}
	if question.ID == uuid.Nil {
		question.ID = uuid.New()
	}
	f.questions[question.ID] = question
	return nil
}

func (f *fakeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FollowUpQuestion, error) {
	return f.questions[id], nil
}

func (f *fakeRepository) ListByAnalysisID(ctx context.Context, analysisID uuid.UUID) ([]models.FollowUpQuestion, error) {
	var out []models.FollowUpQuestion
	for _, question := range f.questions {
		if question.AnalysisID == analysisID {
			out = append(out, *question)
		}
	}
	return out, nil
}

func (f *fakeRepository) Transition(ctx context.Context, id uuid.UUID, from, to enums.FollowUpStatus, mutations map[string]any) (bool, error) {
	question, ok := f.questions[id]
	if !ok || question.Status != from {
		return false, nil
	}
	question.Status = to
	if answer, ok := mutations["answer"]; ok {
		a := answer.(string)
		question.Answer = &a
	}
	if message, ok := mutations["error_message"]; ok {
		m := message.(string)
		question.ErrorMessage = &m
	}
	return true, nil
}

type fakeAnalysesRepo struct {
	jobs map[uuid.UUID]*models.AnalysisJob
}

func (f *fakeAnalysesRepo) WithTx(tx *gorm.DB) analyses.Repository { return f }

func (f *fakeAnalysesRepo) CreateIfAbsent(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisJob, bool, error) {
	f.jobs[job.ID] = job
	return job, true, nil
}

func (f *fakeAnalysesRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	return f.jobs[id], nil
}

func (f *fakeAnalysesRepo) GetByNaturalKey(ctx context.Context, key analyses.NaturalKey) (*models.AnalysisJob, error) {
	return nil, nil
}

func (f *fakeAnalysesRepo) Transition(ctx context.Context, id uuid.UUID, from, to enums.AnalysisStatus, mutations map[string]any) (bool, error) {
	job, ok := f.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	if payload, ok := mutations["payload"]; ok {
		job.Payload = payload.(json.RawMessage)
	}
	return true, nil
}

func newTestService(t *testing.T, repo Repository, analysesRepo analyses.Repository) Service {
	t.Helper()

	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	analysesSvc, err := analyses.NewService(analyses.ServiceParams{
		Repo:   analysesRepo,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("unexpected analyses service error: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Analyses: analysesSvc,
		Logger:   logg,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func seedParent(repo *fakeAnalysesRepo, userID uuid.UUID, status enums.AnalysisStatus) *models.AnalysisJob {
	job := &models.AnalysisJob{
		ID:     uuid.New(),
		UserID: userID,
		Status: status,
	}
	repo.jobs[job.ID] = job
	return job
}

func TestService_CreateUnderCompletedParent(t *testing.T) {
	repo := newFakeRepository()
	analysesRepo := &fakeAnalysesRepo{jobs: map[uuid.UUID]*models.AnalysisJob{}}
	userID := uuid.New()
	parent := seedParent(analysesRepo, userID, enums.AnalysisStatusCompleted)
	svc := newTestService(t, repo, analysesRepo)

	question, err := svc.Create(context.Background(), CreateInput{
		AnalysisID:  parent.ID,
		UserID:      userID,
		Question:    "what about next spring?",
		CreditsUsed: 3,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if question.Status != enums.FollowUpStatusGenerating {
		t.Fatalf("expected generating, got %s", question.Status)
	}
	if question.CreditsUsed != 3 {
		t.Fatalf("expected credits recorded, got %d", question.CreditsUsed)
	}
}

func TestService_CreateParentNotReady(t *testing.T) {
	repo := newFakeRepository()
	analysesRepo := &fakeAnalysesRepo{jobs: map[uuid.UUID]*models.AnalysisJob{}}
	userID := uuid.New()
	parent := seedParent(analysesRepo, userID, enums.AnalysisStatusInProgress)
	svc := newTestService(t, repo, analysesRepo)

	_, err := svc.Create(context.Background(), CreateInput{
		AnalysisID: parent.ID,
		UserID:     userID,
		Question:   "too early?",
	})
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeStateConflict {
		t.Fatalf("expected StateConflict for incomplete parent, got %v", err)
	}
}

func TestService_CreateForeignParentForbidden(t *testing.T) {
	repo := newFakeRepository()
	analysesRepo := &fakeAnalysesRepo{jobs: map[uuid.UUID]*models.AnalysisJob{}}
	parent := seedParent(analysesRepo, uuid.New(), enums.AnalysisStatusCompleted)
	svc := newTestService(t, repo, analysesRepo)

	_, err := svc.Create(context.Background(), CreateInput{
		AnalysisID: parent.ID,
		UserID:     uuid.New(),
		Question:   "whose analysis is this?",
	})
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeForbidden {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestService_FailureIsolation(t *testing.T) {
	repo := newFakeRepository()
	analysesRepo := &fakeAnalysesRepo{jobs: map[uuid.UUID]*models.AnalysisJob{}}
	userID := uuid.New()
	parent := seedParent(analysesRepo, userID, enums.AnalysisStatusCompleted)
	svc := newTestService(t, repo, analysesRepo)

	first, err := svc.Create(context.Background(), CreateInput{
		AnalysisID: parent.ID, UserID: userID, Question: "first question",
	})
	if err != nil {
		t.Fatalf("Create first error: %v", err)
	}
	second, err := svc.Create(context.Background(), CreateInput{
		AnalysisID: parent.ID, UserID: userID, Question: "second question",
	})
	if err != nil {
		t.Fatalf("Create second error: %v", err)
	}

	if err := svc.Fail(context.Background(), first.ID, "generation exploded"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	if err := svc.Complete(context.Background(), second.ID, "all is well"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}

	if parent.Status != enums.AnalysisStatusCompleted {
		t.Fatalf("parent must stay completed, got %s", parent.Status)
	}
	if first.Status != enums.FollowUpStatusFailed || first.ErrorMessage == nil {
		t.Fatalf("first question not failed correctly: %+v", first)
	}
	if second.Status != enums.FollowUpStatusCompleted || second.Answer == nil {
		t.Fatalf("second question not completed correctly: %+v", second)
	}
}

func TestService_GetDistinguishesMissingFromForeign(t *testing.T) {
	repo := newFakeRepository()
	analysesRepo := &fakeAnalysesRepo{jobs: map[uuid.UUID]*models.AnalysisJob{}}
	userID := uuid.New()
	parent := seedParent(analysesRepo, userID, enums.AnalysisStatusCompleted)
	svc := newTestService(t, repo, analysesRepo)

	question, err := svc.Create(context.Background(), CreateInput{
		AnalysisID: parent.ID, UserID: userID, Question: "where is it?",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := svc.Get(context.Background(), parent.ID, question.ID, userID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != question.ID {
		t.Fatalf("unexpected question %s", got.ID)
	}

	_, err = svc.Get(context.Background(), parent.ID, question.ID, uuid.New())
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeForbidden {
		t.Fatalf("expected Forbidden for foreign requester, got %v", err)
	}

	_, err = svc.Get(context.Background(), parent.ID, uuid.New(), userID)
	typed = errors.As(err)
	if typed == nil || typed.Code() != errors.CodeNotFound {
		t.Fatalf("expected NotFound for missing question, got %v", err)
	}
}
