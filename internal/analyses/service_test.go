package analyses

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type fakeRepository struct {
	jobs map[uuid.UUID]*models.AnalysisJob
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{jobs: map[uuid.UUID]*models.AnalysisJob{}}
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepository) CreateIfAbsent(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisJob, bool, error) {
	for _, existing := range f.jobs {
		if existing.UserID == job.UserID &&
			existing.ProfileID == job.ProfileID &&
			existing.Kind == job.Kind &&
			existing.Period == job.Period &&
			existing.Status != enums.AnalysisStatusFailed {
			return existing, false, nil
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	f.jobs[job.ID] = job
	return job, true, nil
}

func (f *fakeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	return f.jobs[id], nil
}

func (f *fakeRepository) GetByNaturalKey(ctx context.Context, key NaturalKey) (*models.AnalysisJob, error) {
	for _, job := range f.jobs {
		if job.UserID == key.UserID &&
			job.ProfileID == key.ProfileID &&
			job.Kind == key.Kind &&
			job.Period == key.Period &&
			job.Status != enums.AnalysisStatusFailed {
			return job, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) Transition(ctx context.Context, id uuid.UUID, from, to enums.AnalysisStatus, mutations map[string]any) (bool, error) {
	job, ok := f.jobs[id]
	if !ok || job.Status != from {
		return false, nil
	}
	job.Status = to
	if payload, ok := mutations["payload"]; ok {
		job.Payload = payload.(json.RawMessage)
	}
	if reason, ok := mutations["error_reason"]; ok {
		r := reason.(string)
		job.ErrorReason = &r
	}
	return true, nil
}

type fakeDispatcher struct {
	dispatched []uuid.UUID
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, analysisID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, analysisID)
	return nil
}

func newTestService(t *testing.T, repo Repository, dispatcher Dispatcher) Service {
	t.Helper()

	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	svc, err := NewService(ServiceParams{
		Repo:       repo,
		Dispatcher: dispatcher,
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func TestService_CreateIfAbsentIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, &fakeDispatcher{})
	key := NaturalKey{UserID: uuid.New(), ProfileID: uuid.New(), Kind: enums.AnalysisKindYearly, Period: "2026"}

	first, created, err := svc.CreateIfAbsent(context.Background(), CreateInput{Key: key, CreditsUsed: 10})
	if err != nil {
		t.Fatalf("CreateIfAbsent error: %v", err)
	}
	if !created {
		t.Fatal("expected first call to create")
	}

	second, created, err := svc.CreateIfAbsent(context.Background(), CreateInput{Key: key, CreditsUsed: 10})
	if err != nil {
		t.Fatalf("CreateIfAbsent error: %v", err)
	}
	if created {
		t.Fatal("expected second call to find the existing job")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same job id, got %s and %s", first.ID, second.ID)
	}
}

func TestService_CreateIfAbsentValidation(t *testing.T) {
	svc := newTestService(t, newFakeRepository(), &fakeDispatcher{})

	_, _, err := svc.CreateIfAbsent(context.Background(), CreateInput{
		Key: NaturalKey{UserID: uuid.New(), ProfileID: uuid.New(), Kind: "weird", Period: "2026"},
	})
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_GetOwnership(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, &fakeDispatcher{})
	owner := uuid.New()
	job := &models.AnalysisJob{
		ID:     uuid.New(),
		UserID: owner,
		Status: enums.AnalysisStatusPending,
	}
	repo.jobs[job.ID] = job

	got, err := svc.Get(context.Background(), job.ID, owner)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("unexpected job %s", got.ID)
	}

	_, err = svc.Get(context.Background(), job.ID, uuid.New())
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeForbidden {
		t.Fatalf("expected Forbidden for foreign user, got %v", err)
	}

	_, err = svc.Get(context.Background(), uuid.New(), owner)
	typed = errors.As(err)
	if typed == nil || typed.Code() != errors.CodeNotFound {
		t.Fatalf("expected NotFound for missing job, got %v", err)
	}
}

func TestService_StartDuplicateDeliveryHarmless(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, &fakeDispatcher{})
	job := &models.AnalysisJob{ID: uuid.New(), UserID: uuid.New(), Status: enums.AnalysisStatusPending}
	repo.jobs[job.ID] = job

	started, err := svc.Start(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !started {
		t.Fatal("expected first start to win")
	}

	started, err = svc.Start(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("duplicate Start error: %v", err)
	}
	if started {
		t.Fatal("expected duplicate start to lose quietly")
	}
}

func TestService_CompleteRequiresPayload(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, &fakeDispatcher{})
	job := &models.AnalysisJob{ID: uuid.New(), UserID: uuid.New(), Status: enums.AnalysisStatusInProgress}
	repo.jobs[job.ID] = job

	err := svc.Complete(context.Background(), job.ID, nil)
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeValidation {
		t.Fatalf("expected validation error for empty payload, got %v", err)
	}

	if err := svc.Complete(context.Background(), job.ID, json.RawMessage(`{"summary":"ok"}`)); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if job.Status != enums.AnalysisStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
}

func TestService_FailFromEitherState(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(t, repo, &fakeDispatcher{})

	pending := &models.AnalysisJob{ID: uuid.New(), Status: enums.AnalysisStatusPending}
	inProgress := &models.AnalysisJob{ID: uuid.New(), Status: enums.AnalysisStatusInProgress}
	completed := &models.AnalysisJob{ID: uuid.New(), Status: enums.AnalysisStatusCompleted}
	repo.jobs[pending.ID] = pending
	repo.jobs[inProgress.ID] = inProgress
	repo.jobs[completed.ID] = completed

	if err := svc.Fail(context.Background(), pending.ID, "boom"); err != nil {
		t.Fatalf("Fail pending error: %v", err)
	}
	if pending.Status != enums.AnalysisStatusFailed || pending.ErrorReason == nil {
		t.Fatalf("pending job not failed correctly: %+v", pending)
	}

	if err := svc.Fail(context.Background(), inProgress.ID, "boom"); err != nil {
		t.Fatalf("Fail in_progress error: %v", err)
	}

	err := svc.Fail(context.Background(), completed.ID, "boom")
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeStateConflict {
		t.Fatalf("expected StateConflict failing a terminal job, got %v", err)
	}
}

func TestService_DispatchLogsButSwallowsPublishFailure(t *testing.T) {
	repo := newFakeRepository()
	dispatcher := &fakeDispatcher{err: context.DeadlineExceeded}
	svc := newTestService(t, repo, dispatcher)
	job := &models.AnalysisJob{ID: uuid.New(), Status: enums.AnalysisStatusPending}

	// Must not panic or propagate; the job stays pending for later surfacing.
	svc.Dispatch(context.Background(), job)
}
