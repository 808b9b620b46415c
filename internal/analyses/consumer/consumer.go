package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/internal/generation"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
	"github.com/swhoho/fortune-sub003/pkg/metrics"
)

const consumerName = "analysis"

type profileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// Consumer drives analysis jobs from pending to a terminal state. Losing the
// start transition means another delivery owns the job, so the message acks.
type Consumer struct {
	analyses     analyses.Service
	profiles     profileRepository
	generator    generation.Generator
	subscription *pubsub.Subscriber
	logg         *logger.Logger
	metrics      *metrics.WorkerMetrics
}

// ConsumerParams wires the analysis consumer dependencies.
type ConsumerParams struct {
	Analyses     analyses.Service
	Profiles     profileRepository
	Generator    generation.Generator
	Subscription *pubsub.Subscriber
	Logger       *logger.Logger
	Metrics      *metrics.WorkerMetrics
}

// NewConsumer constructs a consumer that watches the analysis subscription.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Analyses == nil {
		return nil, errors.New("analyses service is required")
	}
	if params.Profiles == nil {
		return nil, errors.New("profile repository is required")
	}
	if params.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if params.Subscription == nil {
		return nil, errors.New("analysis subscription is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		analyses:     params.Analyses,
		profiles:     params.Profiles,
		generator:    params.Generator,
		subscription: params.Subscription,
		logg:         params.Logger,
		metrics:      params.Metrics,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		started := time.Now()
		result := c.process(ctx, msg)
		c.metrics.ObserveDuration(consumerName, time.Since(started))
		if result.nack {
			c.metrics.IncProcessed(consumerName, "nack")
			msg.Nack()
			return
		}
		c.metrics.IncProcessed(consumerName, "ack")
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithField(ctx, "message_id", msg.ID)

	var payload analyses.JobMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to unmarshal job message", err)
		return processResult{ack: true}
	}
	if payload.AnalysisID == uuid.Nil {
		c.logg.Error(logCtx, "job message missing analysis id", errors.New("empty analysis id"))
		return processResult{ack: true}
	}

	logCtx = c.logg.WithAnalysisID(logCtx, payload.AnalysisID.String())

	job, err := c.analyses.GetInternal(ctx, payload.AnalysisID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			c.logg.Warn(logCtx, "analysis job not found")
			return processResult{ack: true}
		}
		return c.handleStoreError(logCtx, err)
	}

	if job.Status.IsTerminal() {
		c.logg.Info(logCtx, "analysis job already terminal")
		return processResult{ack: true}
	}

	started, err := c.analyses.Start(ctx, payload.AnalysisID)
	if err != nil {
		return c.handleStoreError(logCtx, err)
	}
	if !started {
		c.logg.Info(logCtx, "another delivery owns this job")
		return processResult{ack: true}
	}

	profile, err := c.profiles.GetByID(ctx, job.ProfileID)
	if err != nil {
		return c.handleStoreError(logCtx, err)
	}
	if profile == nil {
		return c.failJob(logCtx, job.ID, "analysis profile no longer exists")
	}

	result, err := c.generator.GenerateAnalysis(ctx, generation.AnalysisRequest{
		Profile: profile,
		Kind:    job.Kind,
		Period:  job.Period,
	})
	if err != nil {
		c.logg.Error(logCtx, "analysis generation failed", err)
		return c.failJob(logCtx, job.ID, err.Error())
	}

	if err := c.analyses.Complete(ctx, job.ID, result); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			c.logg.Warn(logCtx, "analysis job left in_progress behind our back")
			return processResult{ack: true}
		}
		return c.handleStoreError(logCtx, err)
	}

	c.logg.Info(logCtx, "analysis job completed")
	return processResult{ack: true}
}

// failJob records the terminal failure. Only transient store errors are worth
// a redelivery; everything else acks to avoid poison-message loops.
func (c *Consumer) failJob(ctx context.Context, analysisID uuid.UUID, reason string) processResult {
	if err := c.analyses.Fail(ctx, analysisID, reason); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			c.logg.Warn(ctx, "analysis job already terminal while failing")
			return processResult{ack: true}
		}
		return c.handleStoreError(ctx, err)
	}
	c.logg.Info(ctx, "analysis job marked failed")
	return processResult{ack: true}
}

func (c *Consumer) handleStoreError(ctx context.Context, err error) processResult {
	c.logg.Error(ctx, "analysis persistence error", err)
	if isTransientError(err) {
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
