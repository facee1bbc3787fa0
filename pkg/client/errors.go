package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies a failed call.
type ErrorType string

const (
	ErrorNetwork        ErrorType = "NETWORK"
	ErrorValidation     ErrorType = "VALIDATION"
	ErrorAuthentication ErrorType = "AUTHENTICATION"
	ErrorAuthorization  ErrorType = "AUTHORIZATION"
	ErrorServer         ErrorType = "SERVER"
	ErrorUnknown        ErrorType = "UNKNOWN"
)

// APIError is returned for transport failures and non-2xx responses.
// Message is the server's message when it sent one, otherwise a generic
// sentence suitable for showing to a user.
type APIError struct {
	Type      ErrorType
	Status    int // 0 for network errors
	Message   string
	Retryable bool

	// RedirectURL is set when the server points somewhere else, e.g. the
	// account page for an already-subscribed checkout.
	RedirectURL string

	err error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// IsType reports whether err is an APIError of type t.
func IsType(err error, t ErrorType) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == t
}

func networkError(err error) *APIError {
	return &APIError{
		Type:      ErrorNetwork,
		Message:   "Unable to connect to server. Please check your internet connection.",
		Retryable: true,
		err:       err,
	}
}

// statusError classifies an HTTP status. serverMessage, when non-empty,
// replaces the generic message.
func statusError(status int, serverMessage string) *APIError {
	e := &APIError{Status: status}
	switch status {
	case http.StatusBadRequest:
		e.Type, e.Message = ErrorValidation, "Invalid request. Please check your input and try again."
	case http.StatusUnauthorized:
		e.Type, e.Message = ErrorAuthentication, "Please sign in to continue."
	case http.StatusForbidden:
		e.Type, e.Message = ErrorAuthorization, "You don't have permission to access this resource."
	case http.StatusNotFound:
		e.Type, e.Message = ErrorValidation, "The requested resource was not found."
	case http.StatusTooManyRequests:
		e.Type, e.Message, e.Retryable = ErrorServer, "Too many requests. Please wait a moment and try again.", true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.Type, e.Message, e.Retryable = ErrorServer, "Server is temporarily unavailable. Please try again in a moment.", true
	default:
		e.Type, e.Message, e.Retryable = ErrorUnknown, "An unexpected error occurred. Please try again.", true
	}
	if serverMessage != "" {
		e.Message = serverMessage
	}
	return e
}
