package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/promptr-access/internal/auth"
	"github.com/sakif/promptr-access/internal/model"
)

type SubscriptionHandler struct {
	subscriptions SubscriptionManager
	logger        *slog.Logger
}

func NewSubscriptionHandler(subscriptions SubscriptionManager, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, logger: logger}
}

type manageRequest struct {
	Action string `json:"action"`
	Email  string `json:"email"`
}

type manageResponse struct {
	Success      bool                       `json:"success"`
	Message      string                     `json:"message,omitempty"`
	URL          string                     `json:"url,omitempty"`
	Subscription *model.SubscriptionDetails `json:"subscription,omitempty"`
}

// HandleManage dispatches an account-dashboard action.
//
// HTTP: POST /api/manage-subscription
// REQUEST BODY: {"action": "get_subscription_status", "email": "bob@example.com"}
//
// Actions: get_subscription_status, create_customer_portal,
// cancel_subscription, delete_account.
func (h *SubscriptionHandler) HandleManage(w http.ResponseWriter, r *http.Request) {
	var req manageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := auth.EmailMatches(r.Context(), req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.subscriptions.Handle(r.Context(), req.Action, req.Email, r.Header.Get("Origin"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, manageResponse{
		Success:      true,
		Message:      res.Message,
		URL:          res.URL,
		Subscription: res.Subscription,
	})
}
