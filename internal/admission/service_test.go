package admission

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/internal/credits"
	"github.com/swhoho/fortune-sub003/internal/followups"
	"github.com/swhoho/fortune-sub003/internal/profiles"
	"github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

// fakeCredits tracks debits, refunds and the first-free flag in memory.
type fakeCredits struct {
	balance       int
	firstFree     bool
	debits        []int
	refunds       []int
	grantRestores int
}

func (f *fakeCredits) WithTx(tx *gorm.DB) credits.Service { return f }

func (f *fakeCredits) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return f.balance, nil
}

func (f *fakeCredits) CheckSufficient(ctx context.Context, userID uuid.UUID, required int) (credits.CheckResult, error) {
	return credits.CheckResult{Sufficient: f.balance >= required, Current: f.balance, Required: required}, nil
}

func (f *fakeCredits) Debit(ctx context.Context, userID uuid.UUID, amount int) error {
	if f.balance < amount {
		return errors.New(errors.CodeInsufficientCredit, "credit balance too low").
			WithDetails(map[string]any{"shortfall": amount - f.balance})
	}
	f.balance -= amount
	f.debits = append(f.debits, amount)
	return nil
}

func (f *fakeCredits) Credit(ctx context.Context, userID uuid.UUID, amount int) error {
	f.balance += amount
	f.refunds = append(f.refunds, amount)
	return nil
}

func (f *fakeCredits) ConsumeFirstFreeGrant(ctx context.Context, userID uuid.UUID) (bool, error) {
	if f.firstFree {
		f.firstFree = false
		return true, nil
	}
	return false, nil
}

func (f *fakeCredits) RestoreFirstFreeGrant(ctx context.Context, userID uuid.UUID) error {
	f.firstFree = true
	f.grantRestores++
	return nil
}

// fakeSubscriptions answers entitlement queries from a flag.
type fakeSubscriptions struct {
	active bool
}

func (f *fakeSubscriptions) GetCurrentEntitlement(ctx context.Context, userID uuid.UUID) (subscriptions.Entitlement, error) {
	return subscriptions.Entitlement{Active: f.active}, nil
}

func (f *fakeSubscriptions) Cancel(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptions) SweepExpirations(ctx context.Context, now time.Time) (subscriptions.SweepReport, error) {
	return subscriptions.SweepReport{}, nil
}

func (f *fakeSubscriptions) Confirm(ctx context.Context, input subscriptions.ConfirmInput) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptions) MarkPastDue(ctx context.Context, providerID string) error {
	return nil
}

// fakeAnalyses is an in-memory job registry with a scriptable race loser.
type fakeAnalyses struct {
	jobs       map[uuid.UUID]*models.AnalysisJob
	loseRace   *models.AnalysisJob
	createErr  error
	dispatched []uuid.UUID
}

func (f *fakeAnalyses) WithTx(tx *gorm.DB) analyses.Service { return f }

func (f *fakeAnalyses) CreateIfAbsent(ctx context.Context, input analyses.CreateInput) (*models.AnalysisJob, bool, error) {
	if f.createErr != nil {
		return nil, false, f.createErr
	}
	if f.loseRace != nil {
		return f.loseRace, false, nil
	}
	job := &models.AnalysisJob{
		ID:          uuid.New(),
		UserID:      input.Key.UserID,
		ProfileID:   input.Key.ProfileID,
		Kind:        input.Key.Kind,
		Period:      input.Key.Period,
		Status:      enums.AnalysisStatusPending,
		CreditsUsed: input.CreditsUsed,
	}
	f.jobs[job.ID] = job
	return job, true, nil
}

func (f *fakeAnalyses) FindExisting(ctx context.Context, key analyses.NaturalKey) (*models.AnalysisJob, error) {
	for _, job := range f.jobs {
		if job.UserID == key.UserID && job.ProfileID == key.ProfileID &&
			job.Kind == key.Kind && job.Period == key.Period &&
			job.Status != enums.AnalysisStatusFailed {
			return job, nil
		}
	}
	return nil, nil
}

func (f *fakeAnalyses) Get(ctx context.Context, analysisID, requesterID uuid.UUID) (*models.AnalysisJob, error) {
	job, ok := f.jobs[analysisID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "analysis not found")
	}
	if job.UserID != requesterID {
		return nil, errors.New(errors.CodeForbidden, "analysis belongs to another user")
	}
	return job, nil
}

func (f *fakeAnalyses) GetInternal(ctx context.Context, analysisID uuid.UUID) (*models.AnalysisJob, error) {
	return f.jobs[analysisID], nil
}

func (f *fakeAnalyses) Start(ctx context.Context, analysisID uuid.UUID) (bool, error) {
	return true, nil
}

func (f *fakeAnalyses) Complete(ctx context.Context, analysisID uuid.UUID, payload json.RawMessage) error {
	return nil
}

func (f *fakeAnalyses) Fail(ctx context.Context, analysisID uuid.UUID, reason string) error {
	return nil
}

func (f *fakeAnalyses) Dispatch(ctx context.Context, job *models.AnalysisJob) {
	f.dispatched = append(f.dispatched, job.ID)
}

// fakeFollowUps records created questions and can refuse creation.
type fakeFollowUps struct {
	created    []*models.FollowUpQuestion
	createErr  error
	dispatched []uuid.UUID
}

func (f *fakeFollowUps) WithTx(tx *gorm.DB) followups.Service { return f }

func (f *fakeFollowUps) Create(ctx context.Context, input followups.CreateInput) (*models.FollowUpQuestion, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	question := &models.FollowUpQuestion{
		ID:          uuid.New(),
		AnalysisID:  input.AnalysisID,
		UserID:      input.UserID,
		Question:    input.Question,
		Status:      enums.FollowUpStatusGenerating,
		CreditsUsed: input.CreditsUsed,
	}
	f.created = append(f.created, question)
	return question, nil
}

func (f *fakeFollowUps) Get(ctx context.Context, analysisID, questionID, requesterID uuid.UUID) (*models.FollowUpQuestion, error) {
	return nil, nil
}

func (f *fakeFollowUps) GetInternal(ctx context.Context, questionID uuid.UUID) (*models.FollowUpQuestion, error) {
	return nil, nil
}

func (f *fakeFollowUps) Complete(ctx context.Context, questionID uuid.UUID, answer string) error {
	return nil
}

func (f *fakeFollowUps) Fail(ctx context.Context, questionID uuid.UUID, message string) error {
	return nil
}

func (f *fakeFollowUps) Dispatch(ctx context.Context, question *models.FollowUpQuestion) {
	f.dispatched = append(f.dispatched, question.ID)
}

type fakeProfiles struct {
	profiles map[uuid.UUID]*models.Profile
}

func (f *fakeProfiles) WithTx(tx *gorm.DB) profiles.Repository { return f }

func (f *fakeProfiles) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return f.profiles[id], nil
}

func (f *fakeProfiles) ListByUserID(ctx context.Context, userID uuid.UUID) ([]models.Profile, error) {
	return nil, nil
}

type fixture struct {
	svc       Service
	credits   *fakeCredits
	subs      *fakeSubscriptions
	analyses  *fakeAnalyses
	followups *fakeFollowUps
	profiles  *fakeProfiles
	userID    uuid.UUID
	profileID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		credits:   &fakeCredits{},
		subs:      &fakeSubscriptions{},
		analyses:  &fakeAnalyses{jobs: map[uuid.UUID]*models.AnalysisJob{}},
		followups: &fakeFollowUps{},
		profiles:  &fakeProfiles{profiles: map[uuid.UUID]*models.Profile{}},
		userID:    uuid.New(),
		profileID: uuid.New(),
	}
	f.profiles.profiles[f.profileID] = &models.Profile{ID: f.profileID, UserID: f.userID}

	logg := logger.New(logger.Options{Level: zerolog.ErrorLevel})
	svc, err := NewService(ServiceParams{
		Credits:       f.credits,
		Subscriptions: f.subs,
		Analyses:      f.analyses,
		FollowUps:     f.followups,
		Profiles:      f.profiles,
		Cfg:           config.CreditsConfig{AnalysisCost: 10, FollowUpCost: 3},
		Logger:        logg,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) analysisInput() AnalysisInput {
	return AnalysisInput{
		UserID:    f.userID,
		ProfileID: f.profileID,
		Kind:      enums.AnalysisKindYearly,
		Period:    "2026",
	}
}

func TestAdmitAnalysis_PaidPath(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 10

	result, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err != nil {
		t.Fatalf("AdmitAnalysis error: %v", err)
	}
	if !result.Created || result.CreditsCharged != 10 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if f.credits.balance != 0 {
		t.Fatalf("expected balance 0 after debit, got %d", f.credits.balance)
	}
	if len(f.analyses.dispatched) != 1 {
		t.Fatal("expected job to be dispatched")
	}
}

func TestAdmitAnalysis_IdempotentShortCircuit(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 20

	first, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err != nil {
		t.Fatalf("first AdmitAnalysis error: %v", err)
	}

	second, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err != nil {
		t.Fatalf("second AdmitAnalysis error: %v", err)
	}
	if second.Created {
		t.Fatal("resubmit must not create")
	}
	if second.Job.ID != first.Job.ID {
		t.Fatalf("expected same job id, got %s and %s", first.Job.ID, second.Job.ID)
	}
	if len(f.credits.debits) != 1 {
		t.Fatalf("expected a single debit, got %d", len(f.credits.debits))
	}
}

func TestAdmitAnalysis_ActiveSubscriptionIsFree(t *testing.T) {
	f := newFixture(t)
	f.subs.active = true

	result, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err != nil {
		t.Fatalf("AdmitAnalysis error: %v", err)
	}
	if result.CreditsCharged != 0 {
		t.Fatalf("subscriber must not be charged, got %d", result.CreditsCharged)
	}
	if len(f.credits.debits) != 0 {
		t.Fatal("no debit may occur for subscribers")
	}
}

func TestAdmitAnalysis_FirstFreeGrant(t *testing.T) {
	f := newFixture(t)
	f.credits.firstFree = true

	result, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err != nil {
		t.Fatalf("AdmitAnalysis error: %v", err)
	}
	if result.CreditsCharged != 0 {
		t.Fatalf("first free analysis must cost nothing, got %d", result.CreditsCharged)
	}
	if f.credits.firstFree {
		t.Fatal("grant must be consumed")
	}
}

func TestAdmitAnalysis_InsufficientCredit(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 4

	_, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeInsufficientCredit {
		t.Fatalf("expected InsufficientCredit, got %v", err)
	}
	if len(f.analyses.jobs) != 0 {
		t.Fatal("no job may exist after denial")
	}
}

func TestAdmitAnalysis_LostRaceRefundsDebit(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 10
	winner := &models.AnalysisJob{
		ID:     uuid.New(),
		UserID: f.userID,
		Status: enums.AnalysisStatusPending,
	}
	f.analyses.loseRace = winner

	result, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err != nil {
		t.Fatalf("AdmitAnalysis error: %v", err)
	}
	if result.Created {
		t.Fatal("race loser must not report creation")
	}
	if result.Job.ID != winner.ID {
		t.Fatal("race loser must receive the winner's job")
	}
	if f.credits.balance != 10 {
		t.Fatalf("debit must be compensated, balance is %d", f.credits.balance)
	}
	if len(f.credits.refunds) != 1 {
		t.Fatal("expected exactly one compensating credit")
	}
}

func TestAdmitAnalysis_LostRaceRestoresFirstFreeGrant(t *testing.T) {
	f := newFixture(t)
	f.credits.firstFree = true
	winner := &models.AnalysisJob{
		ID:     uuid.New(),
		UserID: f.userID,
		Status: enums.AnalysisStatusPending,
	}
	f.analyses.loseRace = winner

	result, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err != nil {
		t.Fatalf("AdmitAnalysis error: %v", err)
	}
	if result.Created {
		t.Fatal("race loser must not report creation")
	}
	if !f.credits.firstFree {
		t.Fatal("the free grant must be handed back to the race loser")
	}
	if f.credits.grantRestores != 1 {
		t.Fatalf("expected exactly one grant restore, got %d", f.credits.grantRestores)
	}
	if len(f.credits.refunds) != 0 {
		t.Fatal("no credit refund may occur for a free admission")
	}
}

func TestAdmitAnalysis_CreationFailureRestoresFirstFreeGrant(t *testing.T) {
	f := newFixture(t)
	f.credits.firstFree = true
	f.analyses.createErr = errors.New(errors.CodeInternal, "store exploded")

	_, err := f.svc.AdmitAnalysis(context.Background(), f.analysisInput())
	if err == nil {
		t.Fatal("expected creation error")
	}
	if !f.credits.firstFree {
		t.Fatal("the free grant must survive a failed creation")
	}
}

func TestAdmitAnalysis_ProfileChecks(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 10

	input := f.analysisInput()
	input.ProfileID = uuid.New()
	_, err := f.svc.AdmitAnalysis(context.Background(), input)
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeNotFound {
		t.Fatalf("expected NotFound for missing profile, got %v", err)
	}

	foreign := &models.Profile{ID: uuid.New(), UserID: uuid.New()}
	f.profiles.profiles[foreign.ID] = foreign
	input.ProfileID = foreign.ID
	_, err = f.svc.AdmitAnalysis(context.Background(), input)
	typed = errors.As(err)
	if typed == nil || typed.Code() != errors.CodeForbidden {
		t.Fatalf("expected Forbidden for foreign profile, got %v", err)
	}
}

func TestAdmitFollowUp_PaidPath(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 3
	parent := &models.AnalysisJob{ID: uuid.New(), UserID: f.userID, Status: enums.AnalysisStatusCompleted}
	f.analyses.jobs[parent.ID] = parent

	result, err := f.svc.AdmitFollowUp(context.Background(), FollowUpInput{
		UserID:     f.userID,
		AnalysisID: parent.ID,
		Question:   "and the summer?",
	})
	if err != nil {
		t.Fatalf("AdmitFollowUp error: %v", err)
	}
	if result.CreditsCharged != 3 {
		t.Fatalf("expected follow-up cost 3, got %d", result.CreditsCharged)
	}
	if f.credits.balance != 0 {
		t.Fatalf("expected balance 0, got %d", f.credits.balance)
	}
	if len(f.followups.dispatched) != 1 {
		t.Fatal("expected question to be dispatched")
	}
}

func TestAdmitFollowUp_ParentNotReadyCostsNothing(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 3
	parent := &models.AnalysisJob{ID: uuid.New(), UserID: f.userID, Status: enums.AnalysisStatusInProgress}
	f.analyses.jobs[parent.ID] = parent

	_, err := f.svc.AdmitFollowUp(context.Background(), FollowUpInput{
		UserID:     f.userID,
		AnalysisID: parent.ID,
		Question:   "too soon?",
	})
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeStateConflict {
		t.Fatalf("expected StateConflict, got %v", err)
	}
	if len(f.credits.debits) != 0 {
		t.Fatal("a rejected follow-up must not be billed")
	}
}

func TestAdmitFollowUp_CreationFailureRefunds(t *testing.T) {
	f := newFixture(t)
	f.credits.balance = 3
	parent := &models.AnalysisJob{ID: uuid.New(), UserID: f.userID, Status: enums.AnalysisStatusCompleted}
	f.analyses.jobs[parent.ID] = parent
	f.followups.createErr = errors.New(errors.CodeInternal, "store exploded")

	_, err := f.svc.AdmitFollowUp(context.Background(), FollowUpInput{
		UserID:     f.userID,
		AnalysisID: parent.ID,
		Question:   "lost question",
	})
	if err == nil {
		t.Fatal("expected creation error")
	}
	if f.credits.balance != 3 {
		t.Fatalf("debit must be refunded, balance is %d", f.credits.balance)
	}
}

func TestAdmitFollowUp_SubscriberIsFree(t *testing.T) {
	f := newFixture(t)
	f.subs.active = true
	parent := &models.AnalysisJob{ID: uuid.New(), UserID: f.userID, Status: enums.AnalysisStatusCompleted}
	f.analyses.jobs[parent.ID] = parent

	result, err := f.svc.AdmitFollowUp(context.Background(), FollowUpInput{
		UserID:     f.userID,
		AnalysisID: parent.ID,
		Question:   "free for me?",
	})
	if err != nil {
		t.Fatalf("AdmitFollowUp error: %v", err)
	}
	if result.CreditsCharged != 0 {
		t.Fatalf("subscriber must not be charged, got %d", result.CreditsCharged)
	}
}
