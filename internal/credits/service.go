package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

// Service exposes the credit ledger operations.
type Service interface {
	WithTx(tx *gorm.DB) Service
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	CheckSufficient(ctx context.Context, userID uuid.UUID, required int) (CheckResult, error)
	Debit(ctx context.Context, userID uuid.UUID, amount int) error
	Credit(ctx context.Context, userID uuid.UUID, amount int) error
	ConsumeFirstFreeGrant(ctx context.Context, userID uuid.UUID) (bool, error)
	RestoreFirstFreeGrant(ctx context.Context, userID uuid.UUID) error
}

// CheckResult answers a "can I afford this" query without mutating anything.
type CheckResult struct {
	Sufficient bool `json:"sufficient"`
	Current    int  `json:"current"`
	Required   int  `json:"required"`
	Remaining  int  `json:"remaining"`
	Shortfall  int  `json:"shortfall"`
}

// ServiceParams wires the credit service dependencies.
type ServiceParams struct {
	Repo   Repository
	Cfg    config.CreditsConfig
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	cfg    config.CreditsConfig
	logger *logger.Logger
}

// NewService validates params and returns a credit ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("credits repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   params.Repo,
		cfg:    params.Cfg,
		logger: params.Logger,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{
		repo:   s.repo.WithTx(tx),
		cfg:    s.cfg,
		logger: s.logger,
	}
}

// GetBalance returns the current balance, creating the account lazily with
// the configured starting grant.
func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	if userID == uuid.Nil {
		return 0, errors.New(errors.CodeValidation, "user id is required")
	}
	account, err := s.repo.EnsureAccount(ctx, userID, s.cfg.StartingBalance)
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "loading credit account")
	}
	return account.Balance, nil
}

func (s *service) CheckSufficient(ctx context.Context, userID uuid.UUID, required int) (CheckResult, error) {
	if required < 0 {
		return CheckResult{}, errors.New(errors.CodeValidation, "required must not be negative")
	}
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return CheckResult{}, err
	}

	result := CheckResult{
		Current:  balance,
		Required: required,
	}
	if balance >= required {
		result.Sufficient = true
		result.Remaining = balance - required
	} else {
		result.Shortfall = required - balance
	}
	return result, nil
}

// Debit atomically subtracts amount or fails with InsufficientCredit carrying
// the current balance and shortfall.
func (s *service) Debit(ctx context.Context, userID uuid.UUID, amount int) error {
	if userID == uuid.Nil {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if amount <= 0 {
		return errors.New(errors.CodeValidation, "debit amount must be positive")
	}

	if _, err := s.repo.EnsureAccount(ctx, userID, s.cfg.StartingBalance); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "loading credit account")
	}

	ok, err := s.repo.Debit(ctx, userID, amount)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "debiting credits")
	}
	if !ok {
		balance, balErr := s.GetBalance(ctx, userID)
		if balErr != nil {
			balance = 0
		}
		return errors.New(errors.CodeInsufficientCredit, "credit balance too low").
			WithDetails(map[string]any{
				"current":   balance,
				"required":  amount,
				"shortfall": amount - balance,
			})
	}
	return nil
}

func (s *service) Credit(ctx context.Context, userID uuid.UUID, amount int) error {
	if userID == uuid.Nil {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if amount <= 0 {
		return errors.New(errors.CodeValidation, "credit amount must be positive")
	}

	if _, err := s.repo.EnsureAccount(ctx, userID, s.cfg.StartingBalance); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "loading credit account")
	}
	if err := s.repo.Credit(ctx, userID, amount); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "crediting account")
	}
	return nil
}

// ConsumeFirstFreeGrant returns true for exactly one caller per user; a false
// return is the non-fatal race-loser outcome.
func (s *service) ConsumeFirstFreeGrant(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, errors.New(errors.CodeValidation, "user id is required")
	}
	if _, err := s.repo.EnsureAccount(ctx, userID, s.cfg.StartingBalance); err != nil {
		return false, errors.Wrap(errors.CodeInternal, err, "loading credit account")
	}
	granted, err := s.repo.ConsumeFirstFreeGrant(ctx, userID)
	if err != nil {
		return false, errors.Wrap(errors.CodeInternal, err, "consuming first free grant")
	}
	return granted, nil
}

// RestoreFirstFreeGrant is the compensating move for a consumed grant whose
// work was never created.
func (s *service) RestoreFirstFreeGrant(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if err := s.repo.RestoreFirstFreeGrant(ctx, userID); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "restoring first free grant")
	}
	return nil
}
