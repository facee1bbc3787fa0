package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/promptr-access/internal/auth"
)

type CheckoutHandler struct {
	checkout CheckoutCreator
	logger   *slog.Logger
}

func NewCheckoutHandler(checkout CheckoutCreator, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, logger: logger}
}

type emailRequest struct {
	Email string `json:"email"`
}

// HandleCreateSession starts a hosted checkout.
//
// HTTP: POST /api/create-checkout-session
// REQUEST BODY: {"email": "bob@example.com"}
// RESPONSE: {"url": "https://checkout.stripe.com/..."}, or 409 with
// redirect_url when the email already has access.
func (h *CheckoutHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := auth.EmailMatches(r.Context(), req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	url, err := h.checkout.CreateSession(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
