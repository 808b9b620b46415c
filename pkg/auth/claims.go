package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/swhoho/fortune-sub003/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID             uuid.UUID
	SubscriptionStatus *enums.SubscriptionStatus
	JTI                string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID             uuid.UUID                 `json:"user_id"`
	SubscriptionStatus *enums.SubscriptionStatus `json:"subscription_status,omitempty"`
	jwt.RegisteredClaims
}
