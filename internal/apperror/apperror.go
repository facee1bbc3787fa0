// Package apperror defines the domain errors shared by the service and handler layers.
//
// Services return these; only handler/response.go knows how they map to HTTP.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation failed")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("unavailable")
)

type AppError struct {
	Err     error    // sentinel, matched with errors.Is
	Message string   // Human-readable error message
	Field   string   // Optional: field causing the error
	Details []string // Optional: itemised validation failures

	// RedirectURL points the caller somewhere useful, e.g. the account page
	// for an already-subscribed user.
	RedirectURL string
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Details: []string{message},
	}
}

// Invalid wraps a list of validation failures, as produced by the validation package.
func Invalid(details []string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: strings.Join(details, "; "),
		Details: details,
	}
}

// BadRequest is a 400 whose message is itself the error shown to the caller,
// e.g. "No Stripe customer ID found".
func BadRequest(message string) *AppError {
	return &AppError{
		Err:     ErrBadRequest,
		Message: message,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// AlreadySubscribed refuses a second checkout for a user who already has access.
func AlreadySubscribed(accountURL string) *AppError {
	return &AppError{
		Err:         ErrConflict,
		Message:     "You already have an active subscription. Manage it from your account page.",
		RedirectURL: accountURL,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// Unavailable signals that an optional integration is not configured.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}
