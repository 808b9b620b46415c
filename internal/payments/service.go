package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/internal/credits"
	"github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

// Service is the payment provider boundary. Webhook events arrive at least
// once; credit purchases are deduped by the provider event id so a replayed
// event never credits twice.
type Service interface {
	ApplyCreditPurchase(ctx context.Context, input CreditPurchaseInput) (*CreditPurchaseResult, error)
	ConfirmSubscription(ctx context.Context, input SubscriptionConfirmInput) error
	MarkPastDue(ctx context.Context, providerSubscriptionID string) error
}

// CreditPurchaseInput is one provider purchase event.
type CreditPurchaseInput struct {
	Provider string
	EventID  string
	UserID   uuid.UUID
	Credits  int
}

// CreditPurchaseResult reports whether the event did anything.
type CreditPurchaseResult struct {
	Applied   bool
	Duplicate bool
}

// SubscriptionConfirmInput is one provider subscription-activated event.
type SubscriptionConfirmInput struct {
	UserID                 uuid.UUID
	ProviderSubscriptionID string
	PeriodStart            time.Time
	PeriodEnd              time.Time
}

type dedupeStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(provider, eventID string) string
}

// ServiceParams wires the payments service dependencies.
type ServiceParams struct {
	Credits       credits.Service
	Subscriptions subscriptions.Service
	Dedupe        dedupeStore
	Cfg           config.PaymentsConfig
	Logger        *logger.Logger
}

type service struct {
	credits       credits.Service
	subscriptions subscriptions.Service
	dedupe        dedupeStore
	cfg           config.PaymentsConfig
	logger        *logger.Logger
}

// NewService validates params and returns the payments service.
func NewService(params ServiceParams) (Service, error) {
	if params.Credits == nil {
		return nil, fmt.Errorf("credits service required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	if params.Dedupe == nil {
		return nil, fmt.Errorf("dedupe store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		credits:       params.Credits,
		subscriptions: params.Subscriptions,
		dedupe:        params.Dedupe,
		cfg:           params.Cfg,
		logger:        params.Logger,
	}, nil
}

// ApplyCreditPurchase credits the ledger once per provider event. The SetNX
// guard is claimed before the credit and released if the credit fails, so a
// retry of the same event can succeed later.
func (s *service) ApplyCreditPurchase(ctx context.Context, input CreditPurchaseInput) (*CreditPurchaseResult, error) {
	if strings.TrimSpace(input.Provider) == "" {
		return nil, errors.New(errors.CodeValidation, "provider is required")
	}
	if strings.TrimSpace(input.EventID) == "" {
		return nil, errors.New(errors.CodeValidation, "event id is required")
	}
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if input.Credits <= 0 {
		return nil, errors.New(errors.CodeValidation, "credits must be positive")
	}

	key := s.dedupe.WebhookEventKey(input.Provider, input.EventID)
	claimed, err := s.dedupe.SetNX(ctx, key, input.UserID.String(), s.cfg.EventDedupeTTL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "claiming webhook event")
	}
	if !claimed {
		s.logger.Info(
			s.logger.WithFields(ctx, map[string]any{
				"provider": input.Provider,
				"eventId":  input.EventID,
			}),
			"duplicate purchase event ignored",
		)
		return &CreditPurchaseResult{Applied: false, Duplicate: true}, nil
	}

	if err := s.credits.Credit(ctx, input.UserID, input.Credits); err != nil {
		if delErr := s.dedupe.Del(ctx, key); delErr != nil {
			s.logger.Error(
				s.logger.WithField(ctx, "eventId", input.EventID),
				"failed to release webhook event claim", delErr,
			)
		}
		return nil, err
	}

	return &CreditPurchaseResult{Applied: true}, nil
}

// ConfirmSubscription hands the provider confirmation to the reconciler.
func (s *service) ConfirmSubscription(ctx context.Context, input SubscriptionConfirmInput) error {
	if input.UserID == uuid.Nil {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.ProviderSubscriptionID) == "" {
		return errors.New(errors.CodeValidation, "provider subscription id is required")
	}
	if !input.PeriodEnd.After(input.PeriodStart) {
		return errors.New(errors.CodeValidation, "period end must be after period start")
	}

	_, err := s.subscriptions.Confirm(ctx, subscriptions.ConfirmInput{
		UserID:                 input.UserID,
		ProviderSubscriptionID: input.ProviderSubscriptionID,
		PeriodStart:            input.PeriodStart,
		PeriodEnd:              input.PeriodEnd,
	})
	return err
}

// MarkPastDue flags the subscription after a failed renewal charge.
func (s *service) MarkPastDue(ctx context.Context, providerSubscriptionID string) error {
	if strings.TrimSpace(providerSubscriptionID) == "" {
		return errors.New(errors.CodeValidation, "provider subscription id is required")
	}
	return s.subscriptions.MarkPastDue(ctx, providerSubscriptionID)
}
