package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/swhoho/fortune-sub003/internal/credits"
	"github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type fakeCredits struct {
	balance   int
	creditErr error
	credits   []int
}

func (f *fakeCredits) WithTx(tx *gorm.DB) credits.Service { return f }

func (f *fakeCredits) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	return f.balance, nil
}

func (f *fakeCredits) CheckSufficient(ctx context.Context, userID uuid.UUID, required int) (credits.CheckResult, error) {
	return credits.CheckResult{}, nil
}

func (f *fakeCredits) Debit(ctx context.Context, userID uuid.UUID, amount int) error {
	return nil
}

func (f *fakeCredits) Credit(ctx context.Context, userID uuid.UUID, amount int) error {
	if f.creditErr != nil {
		return f.creditErr
	}
	f.balance += amount
	f.credits = append(f.credits, amount)
	return nil
}

func (f *fakeCredits) ConsumeFirstFreeGrant(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeCredits) RestoreFirstFreeGrant(ctx context.Context, userID uuid.UUID) error {
	return nil
}

type fakeSubscriptions struct {
	confirmed []subscriptions.ConfirmInput
	pastDue   []string
}

func (f *fakeSubscriptions) GetCurrentEntitlement(ctx context.Context, userID uuid.UUID) (subscriptions.Entitlement, error) {
	return subscriptions.Entitlement{}, nil
}

func (f *fakeSubscriptions) Cancel(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptions) SweepExpirations(ctx context.Context, now time.Time) (subscriptions.SweepReport, error) {
	return subscriptions.SweepReport{}, nil
}

func (f *fakeSubscriptions) Confirm(ctx context.Context, input subscriptions.ConfirmInput) (*models.Subscription, error) {
	f.confirmed = append(f.confirmed, input)
	return &models.Subscription{}, nil
}

func (f *fakeSubscriptions) MarkPastDue(ctx context.Context, providerID string) error {
	f.pastDue = append(f.pastDue, providerID)
	return nil
}

type fakeDedupe struct {
	claimed map[string]bool
	deleted []string
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{claimed: map[string]bool{}}
}

func (f *fakeDedupe) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.claimed[key] {
		return false, nil
	}
	f.claimed[key] = true
	return true, nil
}

func (f *fakeDedupe) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.claimed, key)
		f.deleted = append(f.deleted, key)
	}
	return nil
}

func (f *fakeDedupe) WebhookEventKey(provider, eventID string) string {
	return fmt.Sprintf("ft:webhook:%s:%s", provider, eventID)
}

func newTestService(t *testing.T, credits *fakeCredits, subs *fakeSubscriptions, dedupe *fakeDedupe) Service {
	t.Helper()

	svc, err := NewService(ServiceParams{
		Credits:       credits,
		Subscriptions: subs,
		Dedupe:        dedupe,
		Cfg:           config.PaymentsConfig{EventDedupeTTL: time.Hour},
		Logger:        logger.New(logger.Options{Level: zerolog.ErrorLevel}),
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func purchaseInput(userID uuid.UUID) CreditPurchaseInput {
	return CreditPurchaseInput{
		Provider: "stripe",
		EventID:  "evt_123",
		UserID:   userID,
		Credits:  50,
	}
}

func TestApplyCreditPurchase(t *testing.T) {
	ledger := &fakeCredits{}
	svc := newTestService(t, ledger, &fakeSubscriptions{}, newFakeDedupe())
	userID := uuid.New()

	result, err := svc.ApplyCreditPurchase(context.Background(), purchaseInput(userID))
	if err != nil {
		t.Fatalf("ApplyCreditPurchase error: %v", err)
	}
	if !result.Applied || result.Duplicate {
		t.Fatalf("unexpected result %+v", result)
	}
	if ledger.balance != 50 {
		t.Fatalf("expected balance 50, got %d", ledger.balance)
	}
}

func TestApplyCreditPurchase_ReplayedEventIsNoOp(t *testing.T) {
	ledger := &fakeCredits{}
	svc := newTestService(t, ledger, &fakeSubscriptions{}, newFakeDedupe())
	userID := uuid.New()

	if _, err := svc.ApplyCreditPurchase(context.Background(), purchaseInput(userID)); err != nil {
		t.Fatalf("first apply error: %v", err)
	}
	result, err := svc.ApplyCreditPurchase(context.Background(), purchaseInput(userID))
	if err != nil {
		t.Fatalf("second apply error: %v", err)
	}
	if result.Applied || !result.Duplicate {
		t.Fatalf("expected duplicate no-op, got %+v", result)
	}
	if len(ledger.credits) != 1 {
		t.Fatalf("replay must not credit twice, got %d credits", len(ledger.credits))
	}
}

func TestApplyCreditPurchase_FailedCreditReleasesClaim(t *testing.T) {
	ledger := &fakeCredits{creditErr: errors.New(errors.CodeInternal, "ledger unavailable")}
	dedupe := newFakeDedupe()
	svc := newTestService(t, ledger, &fakeSubscriptions{}, dedupe)
	userID := uuid.New()

	if _, err := svc.ApplyCreditPurchase(context.Background(), purchaseInput(userID)); err == nil {
		t.Fatal("expected credit failure")
	}
	if len(dedupe.deleted) != 1 {
		t.Fatal("failed credit must release the event claim")
	}

	ledger.creditErr = nil
	result, err := svc.ApplyCreditPurchase(context.Background(), purchaseInput(userID))
	if err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if !result.Applied {
		t.Fatal("retry after failure must apply")
	}
}

func TestApplyCreditPurchase_Validation(t *testing.T) {
	svc := newTestService(t, &fakeCredits{}, &fakeSubscriptions{}, newFakeDedupe())

	input := purchaseInput(uuid.New())
	input.Credits = 0
	_, err := svc.ApplyCreditPurchase(context.Background(), input)
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConfirmSubscriptionDelegates(t *testing.T) {
	subs := &fakeSubscriptions{}
	svc := newTestService(t, &fakeCredits{}, subs, newFakeDedupe())
	userID := uuid.New()
	start := time.Now().UTC()

	err := svc.ConfirmSubscription(context.Background(), SubscriptionConfirmInput{
		UserID:                 userID,
		ProviderSubscriptionID: "sub_123",
		PeriodStart:            start,
		PeriodEnd:              start.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("ConfirmSubscription error: %v", err)
	}
	if len(subs.confirmed) != 1 || subs.confirmed[0].ProviderSubscriptionID != "sub_123" {
		t.Fatalf("unexpected confirmations %+v", subs.confirmed)
	}
}

func TestConfirmSubscriptionRejectsInvertedPeriod(t *testing.T) {
	svc := newTestService(t, &fakeCredits{}, &fakeSubscriptions{}, newFakeDedupe())
	now := time.Now().UTC()

	err := svc.ConfirmSubscription(context.Background(), SubscriptionConfirmInput{
		UserID:                 uuid.New(),
		ProviderSubscriptionID: "sub_123",
		PeriodStart:            now,
		PeriodEnd:              now.Add(-time.Hour),
	})
	typed := errors.As(err)
	if typed == nil || typed.Code() != errors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkPastDueDelegates(t *testing.T) {
	subs := &fakeSubscriptions{}
	svc := newTestService(t, &fakeCredits{}, subs, newFakeDedupe())

	if err := svc.MarkPastDue(context.Background(), "sub_456"); err != nil {
		t.Fatalf("MarkPastDue error: %v", err)
	}
	if len(subs.pastDue) != 1 || subs.pastDue[0] != "sub_456" {
		t.Fatalf("unexpected past-due calls %+v", subs.pastDue)
	}
}
