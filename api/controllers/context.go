package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/api/middleware"
	pkgerrors "github.com/swhoho/fortune-sub003/pkg/errors"
)

// requesterID resolves the authenticated user from the request context.
func requesterID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id in token")
	}
	return id, nil
}
