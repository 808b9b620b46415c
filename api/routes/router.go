package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/swhoho/fortune-sub003/api/controllers"
	webhookcontrollers "github.com/swhoho/fortune-sub003/api/controllers/webhooks"
	"github.com/swhoho/fortune-sub003/api/middleware"
	"github.com/swhoho/fortune-sub003/internal/admission"
	"github.com/swhoho/fortune-sub003/internal/analyses"
	creditsvc "github.com/swhoho/fortune-sub003/internal/credits"
	"github.com/swhoho/fortune-sub003/internal/followups"
	"github.com/swhoho/fortune-sub003/internal/payments"
	subscriptionsvc "github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/config"
	"github.com/swhoho/fortune-sub003/pkg/db"
	"github.com/swhoho/fortune-sub003/pkg/logger"
	"github.com/swhoho/fortune-sub003/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	admissionService admission.Service,
	analysesService analyses.Service,
	followUpsService followups.Service,
	creditsService creditsvc.Service,
	subscriptionsService subscriptionsvc.Service,
	paymentsService payments.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbClient, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentsWebhook(paymentsService, cfg.Payments, logg))
	})

	r.Route("/api/internal/cron", func(r chi.Router) {
		r.Post("/sweep-subscriptions", controllers.CronSweepSubscriptions(subscriptionsService, cfg.Cron, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/analyses", controllers.AnalysisCreate(admissionService, logg))
		r.Get("/analyses/{analysisId}", controllers.AnalysisFetch(analysesService, logg))
		r.Post("/analyses/{analysisId}/questions", controllers.QuestionCreate(admissionService, logg))
		r.Get("/analyses/{analysisId}/questions/{questionId}", controllers.QuestionFetch(followUpsService, logg))

		r.Get("/credits", controllers.CreditBalance(creditsService, logg))

		r.Get("/subscription", controllers.SubscriptionFetch(subscriptionsService, logg))
		r.Post("/subscription/cancel", controllers.SubscriptionCancel(subscriptionsService, logg))
	})

	return r
}
