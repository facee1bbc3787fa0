// Package billing defines what the services need from the payment provider.
//
// The only production implementation is billing/stripe; tests use fakes.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCustomerMissing means the provider no longer knows the customer or
	// subscription the local record points at (Stripe's resource_missing).
	ErrCustomerMissing = errors.New("billing: resource missing at provider")

	// ErrInvalidSignature is returned by WebhookParser for unsigned, forged or
	// stale payloads.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
)

// Webhook event types the service reacts to.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventInvoicePaid           = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventInvoiceCreated        = "invoice.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventSubscriptionTrialEnds = "customer.subscription.trial_will_end"
)

// Provider subscription states.
const (
	SubscriptionTrialing          = "trialing"
	SubscriptionActive            = "active"
	SubscriptionPastDue           = "past_due"
	SubscriptionUnpaid            = "unpaid"
	SubscriptionCanceled          = "canceled"
	SubscriptionIncomplete        = "incomplete"
	SubscriptionIncompleteExpired = "incomplete_expired"
)

// CheckoutRequest describes a hosted subscription checkout.
type CheckoutRequest struct {
	Email      string
	PriceID    string
	TrialDays  int64
	SuccessURL string
	CancelURL  string
}

// Subscription is the provider-side view of one subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	TrialEnd          *time.Time
	CurrentPeriodEnd  *time.Time
	Created           time.Time
}

// Live reports whether the subscription still grants access at the provider.
func (s Subscription) Live() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}

// Provider is the payment provider's API surface.
//
// Methods return an error wrapping ErrCustomerMissing when the customer or
// subscription does not exist at the provider.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (url string, err error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)

	// ListSubscriptions returns the customer's subscriptions in any state,
	// newest first.
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error

	ListPaymentMethods(ctx context.Context, customerID string) ([]string, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	DeleteCustomer(ctx context.Context, customerID string) error
}

// Event is a verified webhook event reduced to the fields the state machine uses.
type Event struct {
	ID   string
	Type string

	// CustomerID is taken from data.object.customer, which may arrive as an
	// id or an expanded object.
	CustomerID string

	// Email is set for checkout sessions: customer_email, falling back to
	// customer_details.email.
	Email string

	// SubscriptionStatus is set for customer.subscription.* events.
	SubscriptionStatus string
}

// WebhookParser verifies a webhook signature and decodes the event.
type WebhookParser interface {
	ParseEvent(payload []byte, signatureHeader string) (*Event, error)
}

// Newest returns the most recently created subscription, or false when the
// list is empty.
func Newest(subs []Subscription) (Subscription, bool) {
	if len(subs) == 0 {
		return Subscription{}, false
	}
	newest := subs[0]
	for _, s := range subs[1:] {
		if s.Created.After(newest.Created) {
			newest = s
		}
	}
	return newest, true
}
