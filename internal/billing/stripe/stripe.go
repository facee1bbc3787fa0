// Package stripe implements billing.Provider and billing.WebhookParser on
// stripe-go.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/sakif/promptr-access/internal/billing"
)

// listLimit bounds how many subscriptions or payment methods one call looks
// at. A customer of this product normally has one subscription.
const listLimit = 10

// Client talks to the Stripe API with a per-instance key; it does not touch
// the package-level stripe.Key.
type Client struct {
	api *client.API
}

var _ billing.Provider = (*Client)(nil)

// New returns a Client for secretKey. backends may be nil; tests pass
// backends pointed at an httptest server.
func New(secretKey string, backends *stripelib.Backends) *Client {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Client{api: api}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	params := &stripelib.CheckoutSessionParams{
		Mode:                    stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		PaymentMethodTypes:      stripelib.StringSlice([]string{"card"}),
		PaymentMethodCollection: stripelib.String(string(stripelib.CheckoutSessionPaymentMethodCollectionAlways)),
		CustomerEmail:           stripelib.String(req.Email),
		SuccessURL:              stripelib.String(req.SuccessURL),
		CancelURL:               stripelib.String(req.CancelURL),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(req.PriceID),
				Quantity: stripelib.Int64(1),
			},
		},
	}
	if req.TrialDays > 0 {
		params.SubscriptionData = &stripelib.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripelib.Int64(req.TrialDays),
		}
	}
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", mapError("creating checkout session", err)
	}
	return session.URL, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer:  stripelib.String(customerID),
		ReturnURL: stripelib.String(returnURL),
	}
	params.Context = ctx

	session, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", mapError("creating portal session", err)
	}
	return session.URL, nil
}

func (c *Client) ListSubscriptions(ctx context.Context, customerID string) ([]billing.Subscription, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Limit = stripelib.Int64(listLimit)
	params.Single = true
	params.Context = ctx

	var subs []billing.Subscription
	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, toSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapError("listing subscriptions", err)
	}
	return subs, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripelib.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Cancel(subscriptionID, params); err != nil {
		return mapError("cancelling subscription", err)
	}
	return nil
}

func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	params := &stripelib.SubscriptionParams{
		CancelAtPeriodEnd: stripelib.Bool(true),
	}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return mapError("scheduling cancellation", err)
	}
	return nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]string, error) {
	params := &stripelib.PaymentMethodListParams{
		Customer: stripelib.String(customerID),
	}
	params.Limit = stripelib.Int64(listLimit)
	params.Single = true
	params.Context = ctx

	var ids []string
	iter := c.api.PaymentMethods.List(params)
	for iter.Next() {
		ids = append(ids, iter.PaymentMethod().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, mapError("listing payment methods", err)
	}
	return ids, nil
}

func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripelib.PaymentMethodDetachParams{}
	params.Context = ctx

	if _, err := c.api.PaymentMethods.Detach(paymentMethodID, params); err != nil {
		return mapError("detaching payment method", err)
	}
	return nil
}

// DeleteCustomer is sent without params, so ctx is not attached.
func (c *Client) DeleteCustomer(_ context.Context, customerID string) error {
	if _, err := c.api.Customers.Del(customerID, nil); err != nil {
		return mapError("deleting customer", err)
	}
	return nil
}

func toSubscription(s *stripelib.Subscription) billing.Subscription {
	sub := billing.Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		TrialEnd:          unixTime(s.TrialEnd),
		Created:           time.Unix(s.Created, 0).UTC(),
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	// Billing periods live on the items since the 2025-03-31 API version.
	if s.Items != nil && len(s.Items.Data) > 0 {
		sub.CurrentPeriodEnd = unixTime(s.Items.Data[0].CurrentPeriodEnd)
	}
	return sub
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// mapError turns resource_missing into billing.ErrCustomerMissing.
func mapError(op string, err error) error {
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripelib.ErrorCodeResourceMissing {
		return fmt.Errorf("stripe: %s: %w: %s", op, billing.ErrCustomerMissing, stripeErr.Msg)
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}
