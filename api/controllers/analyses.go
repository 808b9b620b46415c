package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/api/responses"
	"github.com/swhoho/fortune-sub003/api/validators"
	"github.com/swhoho/fortune-sub003/internal/admission"
	"github.com/swhoho/fortune-sub003/internal/analyses"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	"github.com/swhoho/fortune-sub003/pkg/enums"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type analysisCreateRequest struct {
	ProfileID string `json:"profile_id" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=yearly focus"`
	Period    string `json:"period" validate:"required,min=4,max=32"`
}

type analysisResponse struct {
	ID             uuid.UUID       `json:"id"`
	ProfileID      uuid.UUID       `json:"profile_id"`
	Kind           string          `json:"kind"`
	Period         string          `json:"period"`
	Status         string          `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ErrorReason    *string         `json:"error_reason,omitempty"`
	CreditsCharged int             `json:"credits_charged"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AnalysisCreate admits a new analysis job. A resubmit of the same
// profile/kind/period returns the live job with 200 instead of 201.
func AnalysisCreate(svc admission.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admission service unavailable"))
			return
		}

		userID, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload analysisCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		profileID, err := uuid.Parse(payload.ProfileID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "profile_id must be a uuid"))
			return
		}

		result, err := svc.AdmitAnalysis(r.Context(), admission.AnalysisInput{
			UserID:    userID,
			ProfileID: profileID,
			Kind:      enums.AnalysisKind(payload.Kind),
			Period:    payload.Period,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := newAnalysisResponse(result.Job)
		resp.CreditsCharged = result.CreditsCharged
		if result.Created {
			responses.WriteSuccessStatus(w, http.StatusCreated, resp)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

// AnalysisFetch reads one job's status for its owner.
func AnalysisFetch(svc analyses.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analyses service unavailable"))
			return
		}

		userID, err := requesterID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		analysisID, err := uuid.Parse(chi.URLParam(r, "analysisId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "analysis id must be a uuid"))
			return
		}

		job, err := svc.Get(r.Context(), analysisID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := newAnalysisResponse(job)
		resp.CreditsCharged = job.CreditsUsed
		responses.WriteSuccess(w, resp)
	}
}

func newAnalysisResponse(job *models.AnalysisJob) *analysisResponse {
	if job == nil {
		return nil
	}
	return &analysisResponse{
		ID:          job.ID,
		ProfileID:   job.ProfileID,
		Kind:        string(job.Kind),
		Period:      job.Period,
		Status:      string(job.Status),
		Payload:     job.Payload,
		ErrorReason: job.ErrorReason,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		CreatedAt:   job.CreatedAt,
	}
}
