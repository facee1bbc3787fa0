package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/metrics"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
	"github.com/sakif/promptr-access/internal/validation"
)

const (
	msgAccountDeleted  = "Account successfully deleted"
	msgTrialCancelled  = "Your trial has been cancelled"
	msgCancelAtEnd     = "Subscription will be cancelled at the end of the billing period"
	msgNoCustomer      = "No Stripe customer ID found"
	msgCustomerMissing = "Customer not found in Stripe"
	msgCancelFailed    = "Failed to cancel subscription"

	defaultSiteURL = "http://localhost:5173"
)

// SubscriptionResult is the outcome of one manage-subscription action. Only
// the fields relevant to the action are set.
type SubscriptionResult struct {
	Message      string
	URL          string
	Subscription *model.SubscriptionDetails
}

type subscriptionInput struct {
	Action string `validate:"subscription_action"`
	Email  string `validate:"promptr_email"`
}

// SubscriptionService backs the account dashboard.
type SubscriptionService struct {
	repo     repository.UserAccessRepository
	payments billing.Provider
	newToken TokenGenerator
	siteURL  string
	logger   *slog.Logger
}

func NewSubscriptionService(repo repository.UserAccessRepository, payments billing.Provider, newToken TokenGenerator, siteURL string, logger *slog.Logger) *SubscriptionService {
	if newToken == nil {
		newToken = NewAccessToken
	}
	return &SubscriptionService{
		repo:     repo,
		payments: payments,
		newToken: newToken,
		siteURL:  strings.TrimRight(siteURL, "/"),
		logger:   logger,
	}
}

// Handle runs action for email. origin is the request's Origin header, used
// for the portal return URL when no site URL is configured.
func (s *SubscriptionService) Handle(ctx context.Context, action, email, origin string) (*SubscriptionResult, error) {
	in := subscriptionInput{Action: strings.TrimSpace(action), Email: model.NormalizeEmail(email)}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	email = in.Email

	if in.Action == validation.ActionDeleteAccount {
		return s.deleteAccount(ctx, email)
	}

	// Checkout may have completed while the webhook failed; the dashboard
	// still needs a row to work with.
	ua, created, err := s.repo.EnsureExists(ctx, email, s.newToken())
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", email, err)
	}
	if created {
		s.logger.Info("auto-created user_access for subscription action",
			slog.String("email", email),
			slog.String("action", in.Action),
			slog.String("token", tokenPrefix(ua.AccessToken)),
		)
	}

	switch in.Action {
	case validation.ActionGetSubscriptionStatus:
		return s.status(ctx, ua), nil
	case validation.ActionCreateCustomerPortal:
		return s.portal(ctx, ua, origin)
	default: // ActionCancelSubscription; validation rejects anything else
		return s.cancel(ctx, ua)
	}
}

// deleteAccount works whether or not a row exists, so a repeated call
// succeeds as a no-op.
func (s *SubscriptionService) deleteAccount(ctx context.Context, email string) (*SubscriptionResult, error) {
	ua, err := s.repo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("loading %s: %w", email, err)
	}

	if ua != nil && ua.CustomerID() != "" {
		if err := s.cancelLiveSubscriptions(ctx, ua.CustomerID()); err != nil {
			s.logger.Warn("could not cancel subscriptions before deletion",
				slog.String("email", email),
				slog.String("customer", ua.CustomerID()),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, err := s.repo.DeleteByEmail(ctx, email); err != nil {
		return nil, fmt.Errorf("deleting %s: %w", email, err)
	}

	s.logger.Info("account deleted", slog.String("email", email))
	return &SubscriptionResult{Message: msgAccountDeleted}, nil
}

// cancelLiveSubscriptions cancels every active or trialing subscription
// immediately, continuing past individual failures.
func (s *SubscriptionService) cancelLiveSubscriptions(ctx context.Context, customerID string) error {
	subs, err := s.payments.ListSubscriptions(ctx, customerID)
	if err != nil {
		return err
	}
	var errs []error
	for _, sub := range subs {
		if !sub.Live() {
			continue
		}
		if err := s.payments.CancelSubscription(ctx, sub.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// status answers from the local row, refined by the newest provider
// subscription when one is reachable.
func (s *SubscriptionService) status(ctx context.Context, ua *model.UserAccess) *SubscriptionResult {
	details := model.NewSubscriptionDetails(ua.Status)
	result := &SubscriptionResult{Subscription: &details}

	if ua.CustomerID() == "" {
		return result
	}

	subs, err := s.payments.ListSubscriptions(ctx, ua.CustomerID())
	if err != nil {
		s.logger.Warn("provider unavailable, answering from local status",
			slog.String("email", ua.Email),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, billing.ErrCustomerMissing) {
			s.scrubCustomer(ctx, ua)
		}
		return result
	}

	if sub, ok := billing.Newest(subs); ok {
		details.Status = DisplayStatus(sub.Status)
		details.TrialEnd = sub.TrialEnd
		details.CurrentPeriodEnd = sub.CurrentPeriodEnd
		details.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	}
	return result
}

func (s *SubscriptionService) portal(ctx context.Context, ua *model.UserAccess, origin string) (*SubscriptionResult, error) {
	if ua.CustomerID() == "" {
		return nil, apperror.BadRequest(msgNoCustomer)
	}

	base := s.siteURL
	if base == "" {
		base = strings.TrimRight(origin, "/")
	}
	if base == "" {
		base = defaultSiteURL
	}

	url, err := s.payments.CreatePortalSession(ctx, ua.CustomerID(), base+"/account")
	if err != nil {
		if errors.Is(err, billing.ErrCustomerMissing) {
			s.scrubCustomer(ctx, ua)
			return nil, apperror.BadRequest(msgCustomerMissing)
		}
		return nil, fmt.Errorf("creating portal session for %s: %w", ua.Email, err)
	}
	return &SubscriptionResult{URL: url}, nil
}

// cancel ends a trial immediately but lets a paid period run out.
func (s *SubscriptionService) cancel(ctx context.Context, ua *model.UserAccess) (*SubscriptionResult, error) {
	if ua.CustomerID() == "" {
		return s.cancelLocally(ctx, ua)
	}

	subs, err := s.payments.ListSubscriptions(ctx, ua.CustomerID())
	if err != nil {
		return s.cancelFailed(ctx, ua, err)
	}

	var live *billing.Subscription
	for i := range subs {
		if subs[i].Live() {
			live = &subs[i]
			break
		}
	}
	if live == nil {
		return s.cancelLocally(ctx, ua)
	}

	if live.Status == billing.SubscriptionTrialing {
		if err := s.payments.CancelSubscription(ctx, live.ID); err != nil {
			return s.cancelFailed(ctx, ua, err)
		}
		return s.cancelLocally(ctx, ua)
	}

	if err := s.payments.CancelAtPeriodEnd(ctx, live.ID); err != nil {
		return s.cancelFailed(ctx, ua, err)
	}
	s.logger.Info("subscription set to cancel at period end",
		slog.String("email", ua.Email),
		slog.String("subscription", live.ID),
	)
	return &SubscriptionResult{Message: msgCancelAtEnd}, nil
}

func (s *SubscriptionService) cancelLocally(ctx context.Context, ua *model.UserAccess) (*SubscriptionResult, error) {
	if err := s.repo.SetStatusByEmail(ctx, ua.Email, model.StatusInactive); err != nil {
		return nil, fmt.Errorf("deactivating %s: %w", ua.Email, err)
	}
	metrics.StatusTransitions.WithLabelValues("cancel", string(model.StatusInactive)).Inc()
	s.logger.Info("trial cancelled", slog.String("email", ua.Email))
	return &SubscriptionResult{Message: msgTrialCancelled}, nil
}

// cancelFailed treats a customer the provider no longer knows as having
// nothing left to cancel.
func (s *SubscriptionService) cancelFailed(ctx context.Context, ua *model.UserAccess, err error) (*SubscriptionResult, error) {
	if errors.Is(err, billing.ErrCustomerMissing) {
		s.scrubCustomer(ctx, ua)
		return s.cancelLocally(ctx, ua)
	}
	s.logger.Error("failed to cancel subscription",
		slog.String("email", ua.Email),
		slog.String("error", err.Error()),
	)
	return nil, apperror.BadRequest(msgCancelFailed)
}

// scrubCustomer drops a customer id the provider reports as missing. Failure
// is logged only; the id will be scrubbed on the next attempt.
func (s *SubscriptionService) scrubCustomer(ctx context.Context, ua *model.UserAccess) {
	s.logger.Info("cleaning up orphaned customer id",
		slog.String("email", ua.Email),
		slog.String("customer", ua.CustomerID()),
	)
	if err := s.repo.ClearCustomerID(ctx, ua.Email); err != nil {
		s.logger.Error("failed to clear orphaned customer id",
			slog.String("email", ua.Email),
			slog.String("error", err.Error()),
		)
		return
	}
	ua.StripeCustomerID = nil
}

// Reconcile overwrites the local status with the one implied by the newest
// provider subscription. It repairs rows after missed webhooks.
func (s *SubscriptionService) Reconcile(ctx context.Context, email string) (model.Status, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	ua, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if ua.CustomerID() == "" {
		return ua.Status, apperror.BadRequest(msgNoCustomer)
	}

	subs, err := s.payments.ListSubscriptions(ctx, ua.CustomerID())
	if err != nil {
		if errors.Is(err, billing.ErrCustomerMissing) {
			s.scrubCustomer(ctx, ua)
		}
		return ua.Status, fmt.Errorf("listing subscriptions for %s: %w", email, err)
	}

	status := model.StatusInactive
	if sub, ok := billing.Newest(subs); ok {
		status = DisplayStatus(sub.Status)
	}
	if status == ua.Status {
		return status, nil
	}

	if err := s.repo.SetStatusByEmail(ctx, email, status); err != nil {
		return ua.Status, fmt.Errorf("writing status for %s: %w", email, err)
	}
	metrics.StatusTransitions.WithLabelValues("reconcile", string(status)).Inc()
	s.logger.Info("status reconciled",
		slog.String("email", email),
		slog.String("from", string(ua.Status)),
		slog.String("to", string(status)),
	)
	return status, nil
}
