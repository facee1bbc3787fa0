package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/promptr-access/internal/auth"
	"github.com/sakif/promptr-access/internal/model"
)

// AccessHandler serves the token endpoints the editor extension calls.
type AccessHandler struct {
	access AccessChecker
	logger *slog.Logger
}

func NewAccessHandler(access AccessChecker, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{access: access, logger: logger}
}

type tokenRequest struct {
	Token string `json:"token"`
}

type accessResponse struct {
	Access bool `json:"access"`
}

// HandleValidateToken answers whether a token grants access.
//
// HTTP: POST /api/validate-token
// REQUEST BODY: {"token": "<uuid>"}
// RESPONSE: {"access": true|false}. Errors keep the same shape with the
// mapped status code, since the extension only reads "access".
func (h *AccessHandler) HandleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, accessResponse{})
		return
	}

	granted, err := h.access.ValidateToken(r.Context(), req.Token)
	if err != nil {
		status, _ := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("token validation failed", slog.String("error", err.Error()))
		}
		writeJSON(w, status, accessResponse{})
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{Access: granted})
}

type userTokenResponse struct {
	Success     bool         `json:"success"`
	Token       string       `json:"token"`
	Status      model.Status `json:"status"`
	AutoCreated bool         `json:"auto_created,omitempty"`
}

// HandleGetUserToken returns the access token for a signed-in user,
// creating a trialing record on first use.
//
// HTTP: POST /api/get-user-token
// REQUEST BODY: {"email": "bob@example.com"}
func (h *AccessHandler) HandleGetUserToken(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := auth.EmailMatches(r.Context(), req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	tok, err := h.access.GetUserToken(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userTokenResponse{
		Success:     true,
		Token:       tok.Token,
		Status:      tok.Status,
		AutoCreated: tok.AutoCreated,
	})
}

type promptrTokenResponse struct {
	Valid   bool         `json:"valid"`
	Status  model.Status `json:"status,omitempty"`
	Email   string       `json:"email,omitempty"`
	Message string       `json:"message"`
}

// HandlePromptrTokenCheck is the extension's detailed token check.
//
// HTTP: POST /api/promptr-token-check  {"promptr_token": "..."}
//
//	GET  /api/promptr-token-check?promptr_token=...
//
// A granted token also carries "expires_at": null; access lasts as long as
// the subscription does.
func (h *AccessHandler) HandlePromptrTokenCheck(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("promptr_token")
	if r.Method == http.MethodPost {
		var req struct {
			PromptrToken string `json:"promptr_token"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, promptrTokenResponse{Message: "Invalid request format"})
			return
		}
		token = req.PromptrToken
	}

	res, err := h.access.CheckPromptrToken(r.Context(), token)
	if err != nil {
		status, _ := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("promptr token check failed", slog.String("error", err.Error()))
		}
		writeJSON(w, status, promptrTokenResponse{Message: publicMessage(err)})
		return
	}

	resp := promptrTokenResponse{
		Valid:   res.Valid,
		Status:  res.Status,
		Email:   res.Email,
		Message: res.Message,
	}
	if res.Valid {
		writeJSON(w, http.StatusOK, struct {
			promptrTokenResponse
			ExpiresAt *string `json:"expires_at"`
		}{promptrTokenResponse: resp})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type validateUserRequest struct {
	Email       string `json:"email"`
	ClerkUserID string `json:"clerk_user_id"`
}

type validateUserResponse struct {
	Access  bool         `json:"access"`
	Status  model.Status `json:"status,omitempty"`
	Email   string       `json:"email,omitempty"`
	UserID  string       `json:"user_id,omitempty"`
	Message string       `json:"message,omitempty"`
}

// HandleValidateUser checks access for a website user by email or by
// auth-provider user id.
//
// HTTP: POST /api/validate-clerk-user
// REQUEST BODY: {"email": "..."} or {"clerk_user_id": "user_..."}
func (h *AccessHandler) HandleValidateUser(w http.ResponseWriter, r *http.Request) {
	var req validateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, validateUserResponse{Message: "Invalid request format"})
		return
	}

	res, err := h.access.ValidateUser(r.Context(), req.Email, req.ClerkUserID)
	if err != nil {
		status, _ := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("user validation failed", slog.String("error", err.Error()))
		}
		writeJSON(w, status, validateUserResponse{Message: publicMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, validateUserResponse{
		Access:  res.Access,
		Status:  res.Status,
		Email:   res.Email,
		UserID:  res.UserID,
		Message: res.Message,
	})
}
