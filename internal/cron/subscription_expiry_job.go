package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type expirationSweeper interface {
	SweepExpirations(ctx context.Context, now time.Time) (subscriptions.SweepReport, error)
}

// SubscriptionExpiryJobParams configures the scheduled subscription sweep.
type SubscriptionExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions expirationSweeper
}

// NewSubscriptionExpiryJob constructs the subscription expiry cron job.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscriptions service required")
	}
	return &subscriptionExpiryJob{
		logg:          params.Logger,
		subscriptions: params.Subscriptions,
		now:           time.Now,
	}, nil
}

type subscriptionExpiryJob struct {
	logg          *logger.Logger
	subscriptions expirationSweeper
	now           func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

// Run expires lapsed subscriptions in bulk. Reads repair lazily anyway, so a
// failed sweep degrades freshness of denormalized state, never correctness.
func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	report, err := j.subscriptions.SweepExpirations(ctx, j.now().UTC())
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned": report.Scanned,
		"expired": report.Expired,
		"failed":  report.Failed,
	})
	if err != nil {
		j.logg.Error(logCtx, "subscription sweep finished with failures", err)
		return fmt.Errorf("sweep expirations: %w", err)
	}
	j.logg.Info(logCtx, "subscription sweep complete")
	return nil
}
