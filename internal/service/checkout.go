package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/repository"
)

const DefaultTrialDays = 14

type CheckoutConfig struct {
	SiteURL   string
	PriceID   string
	TrialDays int64
}

// CheckoutService starts hosted checkouts. It persists nothing: the local
// record is written when the checkout.session.completed webhook arrives.
type CheckoutService struct {
	repo     repository.UserAccessRepository
	payments billing.Provider
	cfg      CheckoutConfig
	logger   *slog.Logger
}

func NewCheckoutService(repo repository.UserAccessRepository, payments billing.Provider, cfg CheckoutConfig, logger *slog.Logger) *CheckoutService {
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = DefaultTrialDays
	}
	return &CheckoutService{
		repo:     repo,
		payments: payments,
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateSession returns the hosted checkout URL for email.
//
// Users who already have access are refused with apperror.AlreadySubscribed,
// which points them at the account page instead of a second subscription.
func (s *CheckoutService) CreateSession(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	existing, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.Status.HasAccess():
		s.logger.Info("checkout refused, already subscribed",
			slog.String("email", email),
			slog.String("status", string(existing.Status)),
		)
		return "", apperror.AlreadySubscribed(s.cfg.SiteURL + "/account")
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return "", fmt.Errorf("looking up %s: %w", email, err)
	}

	url, err := s.payments.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		Email:      email,
		PriceID:    s.cfg.PriceID,
		TrialDays:  s.cfg.TrialDays,
		SuccessURL: s.cfg.SiteURL + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.SiteURL + "/pricing",
	})
	if err != nil {
		s.logger.Error("failed to create checkout session",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("creating checkout session: %w", err)
	}

	s.logger.Info("checkout session created", slog.String("email", email))
	return url, nil
}
