package webhooks

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/api/responses"
	"github.com/swhoho/fortune-sub003/api/validators"
	"github.com/swhoho/fortune-sub003/internal/payments"
	"github.com/swhoho/fortune-sub003/pkg/config"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

const (
	eventCreditPurchase        = "credits.purchased"
	eventSubscriptionActivated = "subscription.activated"
	eventSubscriptionRenewed   = "subscription.renewed"
	eventPaymentFailed         = "subscription.payment_failed"
)

type paymentsEvent struct {
	ID       string            `json:"id" validate:"required"`
	Type     string            `json:"type" validate:"required"`
	Provider string            `json:"provider" validate:"required"`
	Data     paymentsEventData `json:"data"`
}

type paymentsEventData struct {
	UserID                 string     `json:"user_id"`
	Credits                int        `json:"credits"`
	ProviderSubscriptionID string     `json:"provider_subscription_id"`
	PeriodStart            *time.Time `json:"period_start"`
	PeriodEnd              *time.Time `json:"period_end"`
}

// PaymentsWebhook ingests provider events. Delivery is at least once; the
// service dedupes credit purchases by event id, and subscription
// confirmations are naturally idempotent upserts.
func PaymentsWebhook(svc payments.Service, cfg config.PaymentsConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		if cfg.WebhookSecret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret not configured"))
			return
		}

		provided := r.Header.Get("X-Webhook-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(cfg.WebhookSecret)) != 1 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook secret"))
			return
		}

		var event paymentsEvent
		if err := validators.DecodeJSONBody(r, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		switch event.Type {
		case eventCreditPurchase:
			userID, err := uuid.Parse(event.Data.UserID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "data.user_id must be a uuid"))
				return
			}
			result, err := svc.ApplyCreditPurchase(ctx, payments.CreditPurchaseInput{
				Provider: event.Provider,
				EventID:  event.ID,
				UserID:   userID,
				Credits:  event.Data.Credits,
			})
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, map[string]bool{
				"applied":   result.Applied,
				"duplicate": result.Duplicate,
			})

		case eventSubscriptionActivated, eventSubscriptionRenewed:
			userID, err := uuid.Parse(event.Data.UserID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "data.user_id must be a uuid"))
				return
			}
			if event.Data.PeriodStart == nil || event.Data.PeriodEnd == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "period_start and period_end are required"))
				return
			}
			if err := svc.ConfirmSubscription(ctx, payments.SubscriptionConfirmInput{
				UserID:                 userID,
				ProviderSubscriptionID: event.Data.ProviderSubscriptionID,
				PeriodStart:            *event.Data.PeriodStart,
				PeriodEnd:              *event.Data.PeriodEnd,
			}); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, nil)

		case eventPaymentFailed:
			if err := svc.MarkPastDue(ctx, event.Data.ProviderSubscriptionID); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, nil)

		default:
			// Unknown event types ack so the provider stops retrying them.
			if logg != nil {
				logg.Info(logg.WithField(ctx, "event_type", event.Type), "ignoring unhandled payment event")
			}
			responses.WriteSuccess(w, nil)
		}
	}
}
