package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/api/responses"
	subsvc "github.com/swhoho/fortune-sub003/internal/subscriptions"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type subscriptionResponse struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
}

type entitlementResponse struct {
	Active       bool                  `json:"active"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

// SubscriptionFetch reports the caller's current entitlement. The read
// repairs a lapsed record before answering.
func SubscriptionFetch(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entitlement, err := svc.GetCurrentEntitlement(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, entitlementResponse{
			Active:       entitlement.Active,
			Subscription: newSubscriptionResponse(entitlement.Subscription),
		})
	}
}

func SubscriptionCancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Cancel(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func newSubscriptionResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:          sub.ID,
		Status:      string(sub.Status),
		PeriodStart: sub.PeriodStart,
		PeriodEnd:   sub.PeriodEnd,
		CanceledAt:  sub.CanceledAt,
	}
}
