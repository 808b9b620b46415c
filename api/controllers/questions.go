package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/api/responses"
	"github.com/swhoho/fortune-sub003/api/validators"
	"github.com/swhoho/fortune-sub003/internal/admission"
	"github.com/swhoho/fortune-sub003/internal/followups"
	"github.com/swhoho/fortune-sub003/pkg/db/models"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
	"github.com/swhoho/fortune-sub003/pkg/logger"
)

type questionCreateRequest struct {
	Question string `json:"question" validate:"required,min=3,max=2000"`
}

type questionResponse struct {
	ID             uuid.UUID  `json:"id"`
	AnalysisID     uuid.UUID  `json:"analysis_id"`
	Question       string     `json:"question"`
	Answer         *string    `json:"answer,omitempty"`
	Status         string     `json:"status"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreditsCharged int        `json:"credits_charged"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// QuestionCreate admits one billable follow-up under a completed analysis.
func QuestionCreate(svc admission.Service, logg *logger.Logger) http.HandlerFunc {
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

		analysisID, err := uuid.Parse(chi.URLParam(r, "analysisId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "analysis id must be a uuid"))
			return
		}

		var payload questionCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.AdmitFollowUp(r.Context(), admission.FollowUpInput{
			UserID:     userID,
			AnalysisID: analysisID,
			Question:   payload.Question,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := newQuestionResponse(result.Question)
		resp.CreditsCharged = result.CreditsCharged
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// QuestionFetch reads one follow-up's status for its owner.
func QuestionFetch(svc followups.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "followups service unavailable"))
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
		questionID, err := uuid.Parse(chi.URLParam(r, "questionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "question id must be a uuid"))
			return
		}

		question, err := svc.Get(r.Context(), analysisID, questionID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := newQuestionResponse(question)
		resp.CreditsCharged = question.CreditsUsed
		responses.WriteSuccess(w, resp)
	}
}

func newQuestionResponse(question *models.FollowUpQuestion) *questionResponse {
	if question == nil {
		return nil
	}
	return &questionResponse{
		ID:           question.ID,
		AnalysisID:   question.AnalysisID,
		Question:     question.Question,
		Answer:       question.Answer,
		Status:       string(question.Status),
		ErrorMessage: question.ErrorMessage,
		CompletedAt:  question.CompletedAt,
		CreatedAt:    question.CreatedAt,
	}
}
