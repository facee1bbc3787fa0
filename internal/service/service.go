// Package service holds the subscription rules.
//
// Handlers parse HTTP and call in here with plain values; services validate,
// talk to the repository and the payment provider, and return apperror
// values that the handler layer maps to status codes. Nothing in this package
// knows about HTTP.
package service

import (
	"github.com/google/uuid"

	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/validation"
)

// TokenGenerator produces new access tokens. Tests inject a fixed sequence.
type TokenGenerator func() string

// NewAccessToken returns a random (v4) UUID.
func NewAccessToken() string {
	return uuid.NewString()
}

type emailInput struct {
	Email string `validate:"promptr_email"`
}

// normalizeEmail lowercases and trims email, then validates it.
func normalizeEmail(email string) (string, error) {
	email = model.NormalizeEmail(email)
	if err := validation.Struct(emailInput{Email: email}); err != nil {
		return "", err
	}
	return email, nil
}

// tokenPrefix is the only part of an access token that goes into logs.
func tokenPrefix(token string) string {
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return token
}
