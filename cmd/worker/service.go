package main

import (
	"context"
	"errors"
	"fmt"

	analysisconsumer "github.com/swhoho/fortune-sub003/internal/analyses/consumer"
	followupconsumer "github.com/swhoho/fortune-sub003/internal/followups/consumer"
	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/db"
	"github.com/swhoho/fortune-sub003/pkg/logger"
	"github.com/swhoho/fortune-sub003/pkg/pubsub"
	"github.com/swhoho/fortune-sub003/pkg/redis"
)

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               *db.Client
	Redis            *redis.Client
	PubSub           *pubsub.Client
	AnalysisConsumer *analysisconsumer.Consumer
	FollowUpConsumer *followupconsumer.Consumer
}

type Service struct {
	cfg              *config.Config
	logg             *logger.Logger
	db               *db.Client
	redis            *redis.Client
	pubsub           *pubsub.Client
	analysisConsumer *analysisconsumer.Consumer
	followUpConsumer *followupconsumer.Consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.AnalysisConsumer == nil {
		return nil, errors.New("analysis consumer is required")
	}
	if params.FollowUpConsumer == nil {
		return nil, errors.New("follow-up consumer is required")
	}

	return &Service{
		cfg:              params.Config,
		logg:             params.Logger,
		db:               params.DB,
		redis:            params.Redis,
		pubsub:           params.PubSub,
		analysisConsumer: params.AnalysisConsumer,
		followUpConsumer: params.FollowUpConsumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until the context is canceled or a consumer dies. The first
// consumer error stops the whole worker so the platform restarts it clean.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.analysisConsumer.Run(ctx)
	}()
	go func() {
		errCh <- s.followUpConsumer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "consumer stopped unexpectedly", err)
			return err
		}
		return err
	}
}
