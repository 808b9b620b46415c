package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	analysisconsumer "github.com/swhoho/fortune-sub003/internal/analyses/consumer"
	followupconsumer "github.com/swhoho/fortune-sub003/internal/followups/consumer"

	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/internal/followups"
	"github.com/swhoho/fortune-sub003/internal/generation"
	"github.com/swhoho/fortune-sub003/internal/profiles"
	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/db"
	"github.com/swhoho/fortune-sub003/pkg/logger"
	"github.com/swhoho/fortune-sub003/pkg/metrics"
	"github.com/swhoho/fortune-sub003/pkg/migrate"
	"github.com/swhoho/fortune-sub003/pkg/pubsub"
	"github.com/swhoho/fortune-sub003/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	generator, err := generation.NewClient(cfg.Generation)
	if err != nil {
		logg.Error(context.Background(), "failed to create generation client", err)
		os.Exit(1)
	}

	analysesService, err := analyses.NewService(analyses.ServiceParams{
		Repo:   analyses.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create analyses service", err)
		os.Exit(1)
	}

	followUpsService, err := followups.NewService(followups.ServiceParams{
		Repo:     followups.NewRepository(dbClient.DB()),
		Analyses: analysesService,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create followups service", err)
		os.Exit(1)
	}

	profileRepo := profiles.NewRepository(dbClient.DB())
	workerMetrics := metrics.NewWorkerMetrics(prometheus.DefaultRegisterer)

	analysisConsumer, err := analysisconsumer.NewConsumer(analysisconsumer.ConsumerParams{
		Analyses:     analysesService,
		Profiles:     profileRepo,
		Generator:    generator,
		Subscription: pubsubClient.AnalysisSubscription(),
		Logger:       logg,
		Metrics:      workerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create analysis consumer", err)
		os.Exit(1)
	}

	followUpConsumer, err := followupconsumer.NewConsumer(followupconsumer.ConsumerParams{
		FollowUps:    followUpsService,
		Analyses:     analysesService,
		Profiles:     profileRepo,
		Generator:    generator,
		Subscription: pubsubClient.FollowUpSubscription(),
		Logger:       logg,
		Metrics:      workerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create follow-up consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logg,
		DB:               dbClient,
		Redis:            redisClient,
		PubSub:           pubsubClient,
		AnalysisConsumer: analysisConsumer,
		FollowUpConsumer: followUpConsumer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
