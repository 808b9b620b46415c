package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/swhoho/fortune-sub003/api/routes"
	"github.com/swhoho/fortune-sub003/internal/admission"
	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/internal/credits"
	"github.com/swhoho/fortune-sub003/internal/followups"
	"github.com/swhoho/fortune-sub003/internal/payments"
	"github.com/swhoho/fortune-sub003/internal/profiles"
	"github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/db"
	"github.com/swhoho/fortune-sub003/pkg/logger"
	"github.com/swhoho/fortune-sub003/pkg/migrate"
	"github.com/swhoho/fortune-sub003/pkg/pubsub"
	"github.com/swhoho/fortune-sub003/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	analysisDispatcher, err := analyses.NewDispatcher(pubsubClient.AnalysisPublisher())
	if err != nil {
		logg.Error(context.Background(), "failed to create analysis dispatcher", err)
		os.Exit(1)
	}
	followUpDispatcher, err := followups.NewDispatcher(pubsubClient.FollowUpPublisher())
	if err != nil {
		logg.Error(context.Background(), "failed to create follow-up dispatcher", err)
		os.Exit(1)
	}

	creditsService, err := credits.NewService(credits.ServiceParams{
		Repo:   credits.NewRepository(dbClient.DB()),
		Cfg:    cfg.Credits,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	subscriptionsService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:       subscriptions.NewRepository(dbClient.DB()),
		Client:     dbClient,
		Logger:     logg,
		SweepLimit: cfg.Cron.SweepLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	analysesService, err := analyses.NewService(analyses.ServiceParams{
		Repo:       analyses.NewRepository(dbClient.DB()),
		Dispatcher: analysisDispatcher,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create analyses service", err)
		os.Exit(1)
	}

	followUpsService, err := followups.NewService(followups.ServiceParams{
		Repo:       followups.NewRepository(dbClient.DB()),
		Analyses:   analysesService,
		Dispatcher: followUpDispatcher,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create followups service", err)
		os.Exit(1)
	}

	admissionService, err := admission.NewService(admission.ServiceParams{
		Credits:       creditsService,
		Subscriptions: subscriptionsService,
		Analyses:      analysesService,
		FollowUps:     followUpsService,
		Profiles:      profiles.NewRepository(dbClient.DB()),
		Cfg:           cfg.Credits,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create admission service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Credits:       creditsService,
		Subscriptions: subscriptionsService,
		Dedupe:        redisClient,
		Cfg:           cfg.Payments,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg, logg, dbClient, redisClient,
			admissionService, analysesService, followUpsService,
			creditsService, subscriptionsService, paymentsService,
		),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-shutdownCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "error during server shutdown", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
