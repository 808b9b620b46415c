package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/swhoho/fortune-sub003/pkg/db"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

// Service owns the subscription lifecycle. Expiry happens in two places that
// share one conditional transition: the scheduled sweep and the lazy
// read-repair performed on every entitlement read.
type Service interface {
	GetCurrentEntitlement(ctx context.Context, userID uuid.UUID) (Entitlement, error)
	Cancel(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	SweepExpirations(ctx context.Context, now time.Time) (SweepReport, error)
	Confirm(ctx context.Context, input ConfirmInput) (*models.Subscription, error)
	MarkPastDue(ctx context.Context, providerID string) error
}

// Entitlement is the answer to "is this user currently entitled".
type Entitlement struct {
	Active       bool                 `json:"active"`
	Subscription *models.Subscription `json:"subscription,omitempty"`
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// ConfirmInput carries a payment-provider confirmation into the reconciler.
type ConfirmInput struct {
	UserID                 uuid.UUID
	ProviderSubscriptionID string
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

// ServiceParams wires the subscription service dependencies.
type ServiceParams struct {
	Repo       Repository
	Client     *db.Client
	Logger     *logger.Logger
	SweepLimit int
	Now        func() time.Time
}

type service struct {
	repo       Repository
	client     *db.Client
	logger     *logger.Logger
	sweepLimit int
	now        func() time.Time
}

// NewService validates params and returns a subscription service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscriptions repository required")
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
		client:     params.Client,
		logger:     params.Logger,
		sweepLimit: params.SweepLimit,
		now:        now,
	}, nil
}

// GetCurrentEntitlement reads the latest active-like record and repairs a
// lapsed one inline before answering, so callers never trust a logically
// expired subscription.
func (s *service) GetCurrentEntitlement(ctx context.Context, userID uuid.UUID) (Entitlement, error) {
	if userID == uuid.Nil {
		return Entitlement{}, errors.New(errors.CodeValidation, "user id is required")
	}

	sub, err := s.repo.GetLatestActiveLike(ctx, userID)
	if err != nil {
		return Entitlement{}, errors.Wrap(errors.CodeInternal, err, "loading subscription")
	}
	if sub == nil {
		return Entitlement{Active: false}, nil
	}

	now := s.now()
	if sub.PeriodEnd.Before(now) {
		repaired, err := s.expireOne(ctx, sub, now)
		if err != nil {
			return Entitlement{}, err
		}
		return Entitlement{Active: false, Subscription: repaired}, nil
	}

	return Entitlement{Active: true, Subscription: sub}, nil
}

// Cancel transitions the active-like record to canceled. A second call finds
// nothing left to cancel and reports the state conflict instead of erroring
// destructively.
func (s *service) Cancel(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}

	now := s.now()
	sub, err := s.repo.MarkCanceled(ctx, userID, now)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "canceling subscription")
	}
	if sub == nil {
		return nil, errors.New(errors.CodeStateConflict, "no active subscription to cancel")
	}

	if err := s.repo.SetUserSubscriptionStatus(ctx, userID, enums.SubscriptionStatusCanceled); err != nil {
		s.logger.Warn(s.logger.WithUserID(ctx, userID.String()), "failed to refresh user subscription flag")
	}
	return sub, nil
}

// SweepExpirations expires every lapsed active-like record. Records are
// processed independently; one failure does not abort the rest.
func (s *service) SweepExpirations(ctx context.Context, now time.Time) (SweepReport, error) {
	subs, err := s.repo.ListExpiredActiveLike(ctx, now, s.sweepLimit)
	if err != nil {
		return SweepReport{}, errors.Wrap(errors.CodeInternal, err, "listing lapsed subscriptions")
	}

	report := SweepReport{Scanned: len(subs)}
	var sweepErr error
	for i := range subs {
		sub := subs[i]
		if _, err := s.expireOne(ctx, &sub, now); err != nil {
			report.Failed++
			sweepErr = multierr.Append(sweepErr, fmt.Errorf("subscription %s: %w", sub.ID, err))
			s.logger.Error(
				s.logger.WithFields(ctx, map[string]any{
					"subscriptionId": sub.ID.String(),
					"userId":         sub.UserID.String(),
				}),
				"sweep failed to expire subscription", err,
			)
			continue
		}
		report.Expired++
	}

	if sweepErr != nil {
		return report, errors.Wrap(errors.CodeInternal, sweepErr, "sweep finished with failures")
	}
	return report, nil
}

// expireOne is the single transition shared by sweep and read-repair. Losing
// the conditional update to a concurrent caller is not an error.
func (s *service) expireOne(ctx context.Context, sub *models.Subscription, now time.Time) (*models.Subscription, error) {
	expired, err := s.repo.MarkExpired(ctx, sub.ID, now)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "expiring subscription")
	}
	if !expired {
		// Another sweep/read-repair won; re-read for the caller.
		current, err := s.repo.GetByID(ctx, sub.ID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "reloading subscription")
		}
		if current != nil {
			return current, nil
		}
		return sub, nil
	}

	sub.Status = enums.SubscriptionStatusExpired
	if err := s.repo.SetUserSubscriptionStatus(ctx, sub.UserID, enums.SubscriptionStatusExpired); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "refreshing user subscription flag")
	}
	return sub, nil
}

// Confirm records a provider confirmation: a renewal of a known subscription
// extends its period, a new one creates the active record.
func (s *service) Confirm(ctx context.Context, input ConfirmInput) (*models.Subscription, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.ProviderSubscriptionID) == "" {
		return nil, errors.New(errors.CodeValidation, "provider subscription id is required")
	}
	if !input.PeriodEnd.After(input.PeriodStart) {
		return nil, errors.New(errors.CodeValidation, "period end must follow period start")
	}

	renewed, err := s.repo.RenewPeriod(ctx, input.ProviderSubscriptionID, input.PeriodStart, input.PeriodEnd)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "renewing subscription")
	}
	if renewed {
		sub, err := s.repo.GetByProviderID(ctx, input.ProviderSubscriptionID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "reloading subscription")
		}
		if err := s.repo.SetUserSubscriptionStatus(ctx, input.UserID, enums.SubscriptionStatusActive); err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "refreshing user subscription flag")
		}
		return sub, nil
	}

	sub := &models.Subscription{
		ID:                     uuid.New(),
		UserID:                 input.UserID,
		ProviderSubscriptionID: input.ProviderSubscriptionID,
		Status:                 enums.SubscriptionStatusActive,
		PeriodStart:            input.PeriodStart,
		PeriodEnd:              input.PeriodEnd,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		if db.IsUniqueViolation(err, "") {
			// The partial unique index keeps one active-like record per user.
			return nil, errors.Wrap(errors.CodeConflict, err, "user already has an active subscription")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "creating subscription")
	}
	if err := s.repo.SetUserSubscriptionStatus(ctx, input.UserID, enums.SubscriptionStatusActive); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "refreshing user subscription flag")
	}
	return sub, nil
}

// MarkPastDue records a provider dunning signal. Entitlement survives
// past_due until expiry or cancellation.
func (s *service) MarkPastDue(ctx context.Context, providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return errors.New(errors.CodeValidation, "provider subscription id is required")
	}

	marked, err := s.repo.MarkPastDue(ctx, providerID)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "marking subscription past due")
	}
	if !marked {
		return errors.New(errors.CodeStateConflict, "subscription is not active")
	}

	sub, err := s.repo.GetByProviderID(ctx, providerID)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "reloading subscription")
	}
	if sub != nil {
		if err := s.repo.SetUserSubscriptionStatus(ctx, sub.UserID, enums.SubscriptionStatusPastDue); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "refreshing user subscription flag")
		}
	}
	return nil
}
