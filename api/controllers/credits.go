package controllers

import (
	"net/http"

	"github.com/swhoho/fortune-sub003/api/responses"
	"github.com/swhoho/fortune-sub003/api/validators"
	"github.com/swhoho/fortune-sub003/internal/credits"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

const maxRequiredCredits = 1_000_000

// CreditBalance answers "what is my balance" and, with ?required=N,
// "can I afford N" without charging anything.
func CreditBalance(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}

		userID, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		required, err := validators.ParseQueryInt(r, "required", 0, 0, maxRequiredCredits)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CheckSufficient(r.Context(), userID, required)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
