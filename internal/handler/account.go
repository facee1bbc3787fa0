package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/promptr-access/internal/auth"
)

type AccountHandler struct {
	accounts AccountDeleter
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountDeleter, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type deletionResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Steps   []string `json:"steps"`
}

// HandleSelfDelete removes the caller's account from Stripe, the database
// and the auth provider.
//
// HTTP: POST /api/user-self-deletion
// REQUEST BODY: {"email": "bob@example.com"}
// RESPONSE: {"success": true, "message": "...", "steps": ["✓ Found user in database", ...]}
func (h *AccountHandler) HandleSelfDelete(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := auth.EmailMatches(r.Context(), req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	report, err := h.accounts.SelfDelete(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, deletionResponse{
		Success: true,
		Message: report.Message,
		Steps:   report.Steps,
	})
}
