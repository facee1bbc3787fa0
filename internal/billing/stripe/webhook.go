package stripe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/sakif/promptr-access/internal/billing"
)

// WebhookParser verifies Stripe-Signature headers with the endpoint secret.
type WebhookParser struct {
	secret string
}

var _ billing.WebhookParser = (*WebhookParser)(nil)

func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: secret}
}

// ParseEvent checks the signature (default 5 minute tolerance) and decodes
// the fields of data.object the state machine needs. The account's API
// version may differ from the library's, which is fine for these fields.
func (p *WebhookParser) ParseEvent(payload []byte, signatureHeader string) (*billing.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" || p.secret == "" {
		return nil, billing.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidSignature, err)
	}

	out := &billing.Event{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	var obj eventObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("stripe: decoding %s object: %w", event.Type, err)
	}

	out.CustomerID = obj.Customer.ID
	if strings.HasPrefix(out.Type, "checkout.session.") {
		out.Email = obj.CustomerEmail
		if out.Email == "" {
			out.Email = obj.CustomerDetails.Email
		}
	}
	if strings.HasPrefix(out.Type, "customer.subscription.") {
		out.SubscriptionStatus = obj.Status
	}
	return out, nil
}

// eventObject covers checkout sessions, invoices and subscriptions.
type eventObject struct {
	Customer        customerRef `json:"customer"`
	CustomerEmail   string      `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Status string `json:"status"`
}

// customerRef accepts either "cus_..." or an expanded {"id": "cus_..."}.
type customerRef struct {
	ID string
}

func (c *customerRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.ID = obj.ID
	return nil
}
