package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/identity"
	"github.com/sakif/promptr-access/internal/metrics"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
	"github.com/sakif/promptr-access/internal/validation"
)

const (
	msgInvalidPromptrToken = "Invalid promptr token"
	msgUserNotFound        = "User not found. Please complete your purchase first."
	msgUserInactive        = "Subscription is not active. Please update your payment method."
)

// TokenStatus answers a promptr-token-check.
type TokenStatus struct {
	Valid   bool
	Status  model.Status
	Email   string
	Message string
}

// UserToken answers get-user-token.
type UserToken struct {
	Token       string
	Status      model.Status
	AutoCreated bool
}

// UserAccessResult answers validate-clerk-user.
type UserAccessResult struct {
	Access  bool
	Status  model.Status
	Email   string
	Message string
	UserID  string
}

type tokenInput struct {
	Token string `validate:"access_token"`
}

// AccessService issues and checks the tokens the editor extension presents.
type AccessService struct {
	repo      repository.UserAccessRepository
	directory identity.Directory
	newToken  TokenGenerator
	logger    *slog.Logger
}

func NewAccessService(repo repository.UserAccessRepository, directory identity.Directory, newToken TokenGenerator, logger *slog.Logger) *AccessService {
	if newToken == nil {
		newToken = NewAccessToken
	}
	if directory == nil {
		directory = identity.Disabled{}
	}
	return &AccessService{
		repo:      repo,
		directory: directory,
		newToken:  newToken,
		logger:    logger,
	}
}

// ValidateToken reports whether token grants access. A malformed token is a
// validation error; an unknown one is simply no access.
func (s *AccessService) ValidateToken(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if err := validation.Struct(tokenInput{Token: token}); err != nil {
		metrics.AccessChecks.WithLabelValues("validate-token", "invalid").Inc()
		return false, err
	}

	ua, err := s.repo.GetByAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			metrics.AccessChecks.WithLabelValues("validate-token", "unknown").Inc()
			s.logger.Info("token not found", slog.String("token", tokenPrefix(token)))
			return false, nil
		}
		return false, fmt.Errorf("looking up token: %w", err)
	}

	granted := ua.Status.HasAccess()
	metrics.AccessChecks.WithLabelValues("validate-token", resultLabel(granted)).Inc()
	s.logger.Info("token validated",
		slog.String("token", tokenPrefix(token)),
		slog.String("status", string(ua.Status)),
		slog.Bool("access", granted),
	)
	return granted, nil
}

// GetUserToken returns the token for email, creating a trialing record when
// none exists yet.
func (s *AccessService) GetUserToken(ctx context.Context, email string) (*UserToken, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	ua, created, err := s.repo.EnsureExists(ctx, email, s.newToken())
	if err != nil {
		return nil, fmt.Errorf("loading token for %s: %w", email, err)
	}
	if created {
		s.logger.Info("auto-created user_access on token request",
			slog.String("email", email),
			slog.String("token", tokenPrefix(ua.AccessToken)),
		)
	}

	return &UserToken{
		Token:       ua.AccessToken,
		Status:      ua.Status,
		AutoCreated: created,
	}, nil
}

// CheckPromptrToken is the extension's richer token check. Tokens are not
// format-checked here: anything unknown is just invalid.
func (s *AccessService) CheckPromptrToken(ctx context.Context, token string) (*TokenStatus, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperror.BadRequest("Missing promptr_token")
	}

	ua, err := s.repo.GetByAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			metrics.AccessChecks.WithLabelValues("promptr-token-check", "unknown").Inc()
			s.logger.Info("promptr token not found", slog.String("token", tokenPrefix(token)))
			return &TokenStatus{Message: msgInvalidPromptrToken}, nil
		}
		return nil, fmt.Errorf("looking up token: %w", err)
	}

	res := &TokenStatus{
		Valid:  ua.Status.HasAccess(),
		Status: ua.Status,
		Email:  ua.Email,
	}
	if res.Valid {
		res.Message = fmt.Sprintf("Access granted for %s subscription", ua.Status)
	} else {
		res.Message = fmt.Sprintf("Subscription is %s. Please update your payment method.", ua.Status)
	}
	metrics.AccessChecks.WithLabelValues("promptr-token-check", resultLabel(res.Valid)).Inc()
	return res, nil
}

// ValidateUser checks access by email or by auth-provider user id. When both
// are given the email wins.
func (s *AccessService) ValidateUser(ctx context.Context, email, userID string) (*UserAccessResult, error) {
	email = strings.TrimSpace(email)
	userID = strings.TrimSpace(userID)

	switch {
	case email != "":
		var err error
		if email, err = normalizeEmail(email); err != nil {
			return nil, err
		}
	case userID != "":
		resolved, err := s.directory.LookupEmail(ctx, userID)
		switch {
		case errors.Is(err, identity.ErrUserNotFound):
			metrics.AccessChecks.WithLabelValues("validate-clerk-user", "unknown").Inc()
			return &UserAccessResult{Message: msgUserNotFound}, nil
		case errors.Is(err, identity.ErrNotConfigured):
			return nil, apperror.Unavailable("User ID lookup is not configured. Please use email.")
		case err != nil:
			return nil, fmt.Errorf("resolving user %s: %w", userID, err)
		}
		email = model.NormalizeEmail(resolved)
	default:
		return nil, apperror.BadRequest("Either clerk_user_id or email is required")
	}

	ua, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			metrics.AccessChecks.WithLabelValues("validate-clerk-user", "unknown").Inc()
			s.logger.Info("user validation failed: not found", slog.String("email", email))
			return &UserAccessResult{Message: msgUserNotFound}, nil
		}
		return nil, fmt.Errorf("looking up %s: %w", email, err)
	}

	granted := ua.Status.HasAccess()
	metrics.AccessChecks.WithLabelValues("validate-clerk-user", resultLabel(granted)).Inc()

	res := &UserAccessResult{
		Access: granted,
		Status: ua.Status,
		Email:  ua.Email,
		UserID: userID,
	}
	if !granted {
		res.Message = msgUserInactive
	}
	return res, nil
}

func resultLabel(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}
