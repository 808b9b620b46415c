package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/internal/followups"
	"github.com/swhoho/fortune-sub003/internal/generation"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
	"github.com/swhoho/fortune-sub003/pkg/metrics"
)

const consumerName = "followup"

type profileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// Consumer answers follow-up questions. A question fails on its own; the
// parent analysis and sibling questions are never touched from here.
type Consumer struct {
	followups    followups.Service
	analyses     analyses.Service
	profiles     profileRepository
	generator    generation.Generator
	subscription *pubsub.Subscriber
	logg         *logger.Logger
	metrics      *metrics.WorkerMetrics
}

// ConsumerParams wires the follow-up consumer dependencies.
type ConsumerParams struct {
	FollowUps    followups.Service
	Analyses     analyses.Service
	Profiles     profileRepository
	Generator    generation.Generator
	Subscription *pubsub.Subscriber
	Logger       *logger.Logger
	Metrics      *metrics.WorkerMetrics
}

// NewConsumer constructs a consumer that watches the follow-up subscription.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.FollowUps == nil {
		return nil, errors.New("followups service is required")
	}
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
		return nil, errors.New("follow-up subscription is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		followups:    params.FollowUps,
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

	var payload followups.QuestionMessage
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to unmarshal question message", err)
		return processResult{ack: true}
	}
	if payload.QuestionID == uuid.Nil {
		c.logg.Error(logCtx, "question message missing question id", errors.New("empty question id"))
		return processResult{ack: true}
	}

	logCtx = c.logg.WithField(logCtx, "question_id", payload.QuestionID.String())

	question, err := c.followups.GetInternal(ctx, payload.QuestionID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			c.logg.Warn(logCtx, "follow-up question not found")
			return processResult{ack: true}
		}
		return c.handleStoreError(logCtx, err)
	}

	if question.Status.IsTerminal() {
		c.logg.Info(logCtx, "follow-up question already terminal")
		return processResult{ack: true}
	}

	parent, err := c.analyses.GetInternal(ctx, question.AnalysisID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return c.failQuestion(logCtx, question.ID, "parent analysis no longer exists")
		}
		return c.handleStoreError(logCtx, err)
	}

	profile, err := c.profiles.GetByID(ctx, parent.ProfileID)
	if err != nil {
		return c.handleStoreError(logCtx, err)
	}

	answer, err := c.generator.GenerateFollowUp(ctx, generation.FollowUpRequest{
		Profile:  profile,
		Analysis: parent.Payload,
		Question: question.Question,
	})
	if err != nil {
		c.logg.Error(logCtx, "follow-up generation failed", err)
		return c.failQuestion(logCtx, question.ID, err.Error())
	}

	if err := c.followups.Complete(ctx, question.ID, answer); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			c.logg.Warn(logCtx, "follow-up question no longer generating")
			return processResult{ack: true}
		}
		return c.handleStoreError(logCtx, err)
	}

	c.logg.Info(logCtx, "follow-up question answered")
	return processResult{ack: true}
}

func (c *Consumer) failQuestion(ctx context.Context, questionID uuid.UUID, message string) processResult {
	if err := c.followups.Fail(ctx, questionID, message); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeStateConflict {
			c.logg.Warn(ctx, "follow-up question already terminal while failing")
			return processResult{ack: true}
		}
		return c.handleStoreError(ctx, err)
	}
	c.logg.Info(ctx, "follow-up question marked failed")
	return processResult{ack: true}
}

func (c *Consumer) handleStoreError(ctx context.Context, err error) processResult {
	c.logg.Error(ctx, "follow-up persistence error", err)
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
