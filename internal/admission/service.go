package admission

import (
	"context"
	"fmt"

	"github.com/google/uuid"

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

// Service decides whether billable work may be created. Admission is
// idempotent on the natural key; the storage-level unique index is the
// correctness backstop, the pre-checks are only the fast path.
type Service interface {
	AdmitAnalysis(ctx context.Context, input AnalysisInput) (*AnalysisResult, error)
	AdmitFollowUp(ctx context.Context, input FollowUpInput) (*FollowUpResult, error)
}

// AnalysisInput is a client request for a new analysis.
type AnalysisInput struct {
	UserID    uuid.UUID
	ProfileID uuid.UUID
	Kind      enums.AnalysisKind
	Period    string
}

// AnalysisResult reports the admitted (or found) job.
type AnalysisResult struct {
	Job            *models.AnalysisJob
	Created        bool
	CreditsCharged int
}

// FollowUpInput is a client request for a follow-up question.
type FollowUpInput struct {
	UserID     uuid.UUID
	AnalysisID uuid.UUID
	Question   string
}

// FollowUpResult reports the admitted question.
type FollowUpResult struct {
	Question       *models.FollowUpQuestion
	CreditsCharged int
}

// ServiceParams wires the admission controller dependencies.
type ServiceParams struct {
	Credits       credits.Service
	Subscriptions subscriptions.Service
	Analyses      analyses.Service
	FollowUps     followups.Service
	Profiles      profiles.Repository
	Cfg           config.CreditsConfig
	Logger        *logger.Logger
}

type service struct {
	credits       credits.Service
	subscriptions subscriptions.Service
	analyses      analyses.Service
	followups     followups.Service
	profiles      profiles.Repository
	cfg           config.CreditsConfig
	logger        *logger.Logger
}

// NewService validates params and returns the admission controller.
func NewService(params ServiceParams) (Service, error) {
	if params.Credits == nil {
		return nil, fmt.Errorf("credits service required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	if params.Analyses == nil {
		return nil, fmt.Errorf("analyses service required")
	}
	if params.FollowUps == nil {
		return nil, fmt.Errorf("followups service required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profiles repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		credits:       params.Credits,
		subscriptions: params.Subscriptions,
		analyses:      params.Analyses,
		followups:     params.FollowUps,
		profiles:      params.Profiles,
		cfg:           params.Cfg,
		logger:        params.Logger,
	}, nil
}

// AdmitAnalysis runs the admission sequence: idempotent short-circuit,
// entitlement (subscription, then first-free grant, then paid), debit,
// create. Losing the natural-key race after a debit refunds the debit.
func (s *service) AdmitAnalysis(ctx context.Context, input AnalysisInput) (*AnalysisResult, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if input.ProfileID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "profile id is required")
	}
	if !input.Kind.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid analysis kind %q", input.Kind))
	}
	if input.Period == "" {
		return nil, errors.New(errors.CodeValidation, "period is required")
	}

	key := analyses.NaturalKey{
		UserID:    input.UserID,
		ProfileID: input.ProfileID,
		Kind:      input.Kind,
		Period:    input.Period,
	}

	// Resubmits and retries return the live job without charging again.
	existing, err := s.analyses.FindExisting(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &AnalysisResult{Job: existing, Created: false}, nil
	}

	if err := s.verifyProfileOwnership(ctx, input.UserID, input.ProfileID); err != nil {
		return nil, err
	}

	cost, usedGrant, err := s.resolveAnalysisCost(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	if cost > 0 {
		if err := s.credits.Debit(ctx, input.UserID, cost); err != nil {
			return nil, err
		}
	}

	job, created, err := s.analyses.CreateIfAbsent(ctx, analyses.CreateInput{
		Key:         key,
		CreditsUsed: cost,
	})
	if err != nil {
		s.compensate(ctx, input.UserID, cost, usedGrant, "analysis creation failed")
		return nil, err
	}
	if !created {
		// A concurrent request won the unique index between our existence
		// check and the insert. Give back whatever we charged and hand back
		// the winner.
		s.compensate(ctx, input.UserID, cost, usedGrant, "lost natural-key race")
		return &AnalysisResult{Job: job, Created: false}, nil
	}

	s.analyses.Dispatch(ctx, job)

	return &AnalysisResult{Job: job, Created: true, CreditsCharged: cost}, nil
}

// AdmitFollowUp bills and creates one follow-up question under a completed,
// owned analysis. Repeated questions are separate billable rows.
func (s *service) AdmitFollowUp(ctx context.Context, input FollowUpInput) (*FollowUpResult, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if input.AnalysisID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "analysis id is required")
	}

	// Parent guard first so a not-ready parent never costs anything.
	parent, err := s.analyses.Get(ctx, input.AnalysisID, input.UserID)
	if err != nil {
		return nil, err
	}
	if parent.Status != enums.AnalysisStatusCompleted {
		return nil, errors.New(errors.CodeStateConflict, "analysis is not completed yet").
			WithDetails(map[string]any{"status": parent.Status})
	}

	cost := s.cfg.FollowUpCost
	entitlement, err := s.subscriptions.GetCurrentEntitlement(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if entitlement.Active {
		cost = 0
	}

	if cost > 0 {
		if err := s.credits.Debit(ctx, input.UserID, cost); err != nil {
			return nil, err
		}
	}

	question, err := s.followups.Create(ctx, followups.CreateInput{
		AnalysisID:  input.AnalysisID,
		UserID:      input.UserID,
		Question:    input.Question,
		CreditsUsed: cost,
	})
	if err != nil {
		if cost > 0 {
			s.refund(ctx, input.UserID, cost, "follow-up creation failed")
		}
		return nil, err
	}

	s.followups.Dispatch(ctx, question)

	return &FollowUpResult{Question: question, CreditsCharged: cost}, nil
}

func (s *service) verifyProfileOwnership(ctx context.Context, userID, profileID uuid.UUID) error {
	profile, err := s.profiles.GetByID(ctx, profileID)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "loading profile")
	}
	if profile == nil {
		return errors.New(errors.CodeNotFound, "profile not found")
	}
	if profile.UserID != userID {
		return errors.New(errors.CodeForbidden, "profile belongs to another user")
	}
	return nil
}

// resolveAnalysisCost picks the cheapest entitlement: an active subscription
// covers the job, otherwise the one-time free grant, otherwise the paid rate.
// The second return reports whether the grant was consumed, so a failed
// creation can hand it back.
func (s *service) resolveAnalysisCost(ctx context.Context, userID uuid.UUID) (int, bool, error) {
	entitlement, err := s.subscriptions.GetCurrentEntitlement(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if entitlement.Active {
		return 0, false, nil
	}

	granted, err := s.credits.ConsumeFirstFreeGrant(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	if granted {
		return 0, true, nil
	}

	return s.cfg.AnalysisCost, false, nil
}

// compensate undoes whatever the admission charged for a job that never came
// to be: the debit, or the consumed first-free grant.
func (s *service) compensate(ctx context.Context, userID uuid.UUID, cost int, usedGrant bool, reason string) {
	if cost > 0 {
		s.refund(ctx, userID, cost, reason)
	}
	if usedGrant {
		if err := s.credits.RestoreFirstFreeGrant(ctx, userID); err != nil {
			s.logger.Error(
				s.logger.WithFields(ctx, map[string]any{
					"userId": userID.String(),
					"reason": reason,
				}),
				"restoring first free grant failed", err,
			)
		}
	}
}

// refund is the compensating credit for a debit whose job never came to be.
func (s *service) refund(ctx context.Context, userID uuid.UUID, amount int, reason string) {
	if err := s.credits.Credit(ctx, userID, amount); err != nil {
		// A failed refund is the one place money can leak; make it loud.
		s.logger.Error(
			s.logger.WithFields(ctx, map[string]any{
				"userId": userID.String(),
				"amount": amount,
				"reason": reason,
			}),
			"compensating credit failed", err,
		)
	}
}
