package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the API has the same envelope:
//   {"success": false, "error": "Validation failed", "message": "...", "timestamp": "..."}
//
// Validation failures add "details" (one entry per problem), and a refused
// checkout adds "redirect_url". The extension-facing checks (validate-token,
// promptr-token-check, validate-clerk-user) answer errors in their own
// {access|valid: false} shape instead, since the extension only reads that flag.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/promptr-access/internal/apperror"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// ErrorResponse is the standard error format returned by the API endpoints.
type ErrorResponse struct {
	Success     bool     `json:"success"`
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	Details     []string `json:"details,omitempty"`
	RedirectURL string   `json:"redirect_url,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status code must be set BEFORE writing the body.
// Once Encode writes, the headers are sent and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; we can only log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps a domain error to an HTTP status and the short error label
// shown to callers.
//
// errors.Is walks the whole chain, so a service error such as
//
//	fmt.Errorf("loading bob@example.com: %w", apperror.NotFound(...))
//
// still maps to 404.
func statusFor(err error) (int, string) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, "Internal server error"
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "Validation failed"
	case errors.Is(err, apperror.ErrBadRequest):
		return http.StatusBadRequest, appErr.Message
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "Already subscribed"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "Service unavailable"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// publicMessage is what a caller may see about err. Unexpected errors are
// reduced to a generic message; the raw text can carry SQL or provider detail.
func publicMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}

// writeError maps a domain error to its HTTP status and sends the envelope.
// 5xx errors are logged here so handlers don't have to.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, label := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	resp := ErrorResponse{
		Error:     label,
		Message:   publicMessage(err),
		Timestamp: now(),
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp.Details = appErr.Details
		resp.RedirectURL = appErr.RedirectURL
	}
	writeJSON(w, status, resp)
}

// decodeJSON reads a JSON body into dst. A malformed body is a validation error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}

// Unauthorized is the failure response for RequireSession.
func Unauthorized(logger *slog.Logger) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Info("session rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, r, logger, apperror.Unauthorized("A valid session is required"))
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
