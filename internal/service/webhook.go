package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/metrics"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
	"github.com/sakif/promptr-access/internal/validation"
)

// Outcome says what a webhook event did to local state.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeIgnored   Outcome = "ignored"   // type or status not acted on
	OutcomeUnmatched Outcome = "unmatched" // no local record for the customer
	OutcomeSkipped   Outcome = "skipped"   // payload missing customer or email
)

// WebhookService applies verified payment-provider events to user_access.
//
// Every transition is an idempotent write (upsert or "set status"), so
// replays and out-of-order deliveries converge on the same row. The only
// error returned is a storage failure, which the caller turns into a 5xx so
// the provider retries.
type WebhookService struct {
	repo     repository.UserAccessRepository
	newToken TokenGenerator
	logger   *slog.Logger
}

func NewWebhookService(repo repository.UserAccessRepository, newToken TokenGenerator, logger *slog.Logger) *WebhookService {
	if newToken == nil {
		newToken = NewAccessToken
	}
	return &WebhookService{
		repo:     repo,
		newToken: newToken,
		logger:   logger,
	}
}

func (s *WebhookService) Apply(ctx context.Context, ev *billing.Event) (Outcome, error) {
	log := s.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
	)

	switch ev.Type {
	case billing.EventCheckoutCompleted:
		return s.checkoutCompleted(ctx, log, ev)

	case billing.EventInvoicePaid:
		return s.setByCustomer(ctx, log, ev.CustomerID, model.StatusActive)

	case billing.EventInvoicePaymentFailed, billing.EventSubscriptionDeleted:
		return s.setByCustomer(ctx, log, ev.CustomerID, model.StatusInactive)

	case billing.EventSubscriptionUpdated:
		status, ok := StatusForSubscription(ev.SubscriptionStatus)
		if !ok {
			log.Info("subscription update left unchanged",
				slog.String("subscription_status", ev.SubscriptionStatus),
			)
			return OutcomeIgnored, nil
		}
		return s.setByCustomer(ctx, log, ev.CustomerID, status)

	case billing.EventSubscriptionTrialEnds, billing.EventInvoiceCreated:
		log.Info("informational event", slog.String("customer", ev.CustomerID))
		return OutcomeIgnored, nil

	default:
		log.Debug("unhandled event type")
		return OutcomeIgnored, nil
	}
}

func (s *WebhookService) checkoutCompleted(ctx context.Context, log *slog.Logger, ev *billing.Event) (Outcome, error) {
	email := model.NormalizeEmail(ev.Email)
	if ev.CustomerID == "" || email == "" {
		log.Error("checkout session missing customer information",
			slog.String("customer", ev.CustomerID),
			slog.String("email", email),
		)
		return OutcomeSkipped, nil
	}

	if !validCustomer(log, ev.CustomerID) {
		return OutcomeSkipped, nil
	}

	ua, err := s.repo.UpsertFromCheckout(ctx, email, ev.CustomerID, s.newToken())
	if err != nil {
		return "", fmt.Errorf("recording checkout for %s: %w", email, err)
	}

	metrics.StatusTransitions.WithLabelValues("webhook", string(ua.Status)).Inc()
	log.Info("checkout recorded",
		slog.String("email", email),
		slog.String("customer", ev.CustomerID),
		slog.String("token", tokenPrefix(ua.AccessToken)),
	)
	return OutcomeApplied, nil
}

func (s *WebhookService) setByCustomer(ctx context.Context, log *slog.Logger, customerID string, status model.Status) (Outcome, error) {
	if customerID == "" {
		log.Error("event missing customer")
		return OutcomeSkipped, nil
	}
	if !validCustomer(log, customerID) {
		return OutcomeSkipped, nil
	}

	n, err := s.repo.SetStatusByCustomerID(ctx, customerID, status)
	if err != nil {
		return "", fmt.Errorf("setting %s for customer %s: %w", status, customerID, err)
	}
	if n == 0 {
		// Usually an invoice that raced ahead of checkout.session.completed;
		// the checkout upsert will set the row when it lands.
		log.Warn("no user_access row for customer", slog.String("customer", customerID))
		return OutcomeUnmatched, nil
	}

	metrics.StatusTransitions.WithLabelValues("webhook", string(status)).Inc()
	log.Info("status updated",
		slog.String("customer", customerID),
		slog.String("status", string(status)),
	)
	return OutcomeApplied, nil
}

type customerInput struct {
	CustomerID string `validate:"stripe_customer"`
}

// validCustomer rejects customer ids that are not Stripe ids before they
// reach a query.
func validCustomer(log *slog.Logger, customerID string) bool {
	if err := validation.Struct(customerInput{CustomerID: customerID}); err != nil {
		log.Error("event carries a malformed customer id",
			slog.String("customer", customerID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// StatusForSubscription maps a provider subscription status to the local
// status a customer.subscription.updated event should write. ok is false
// when the event should leave the row alone (trialing, incomplete, ...).
func StatusForSubscription(providerStatus string) (status model.Status, ok bool) {
	switch providerStatus {
	case billing.SubscriptionActive:
		return model.StatusActive, true
	case billing.SubscriptionPastDue,
		billing.SubscriptionUnpaid,
		billing.SubscriptionCanceled,
		billing.SubscriptionIncompleteExpired:
		return model.StatusInactive, true
	default:
		return "", false
	}
}

// DisplayStatus collapses a provider status into the three local ones, as
// shown on the account page.
func DisplayStatus(providerStatus string) model.Status {
	switch providerStatus {
	case billing.SubscriptionTrialing:
		return model.StatusTrialing
	case billing.SubscriptionActive:
		return model.StatusActive
	default:
		return model.StatusInactive
	}
}
