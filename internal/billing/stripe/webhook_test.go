package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/sakif/promptr-access/internal/billing"
)

const testSecret = "whsec_test_secret"

func sign(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantType   string
		wantCust   string
		wantEmail  string
		wantStatus string
	}{
		{
			name: "checkout with customer id",
			payload: `{"id":"evt_1","object":"event","type":"checkout.session.completed",
				"data":{"object":{"object":"checkout.session","customer":"cus_1","customer_email":"bob@example.com"}}}`,
			wantType:  billing.EventCheckoutCompleted,
			wantCust:  "cus_1",
			wantEmail: "bob@example.com",
		},
		{
			name: "checkout falls back to customer_details",
			payload: `{"id":"evt_2","object":"event","type":"checkout.session.completed",
				"data":{"object":{"object":"checkout.session","customer":{"id":"cus_2","object":"customer"},
				"customer_email":null,"customer_details":{"email":"ann@example.com"}}}}`,
			wantType:  billing.EventCheckoutCompleted,
			wantCust:  "cus_2",
			wantEmail: "ann@example.com",
		},
		{
			name: "invoice",
			payload: `{"id":"evt_3","object":"event","type":"invoice.payment_succeeded",
				"data":{"object":{"object":"invoice","customer":"cus_3","status":"paid"}}}`,
			wantType: billing.EventInvoicePaid,
			wantCust: "cus_3",
		},
		{
			name: "subscription update carries status",
			payload: `{"id":"evt_4","object":"event","type":"customer.subscription.updated",
				"data":{"object":{"object":"subscription","customer":"cus_4","status":"past_due"}}}`,
			wantType:   billing.EventSubscriptionUpdated,
			wantCust:   "cus_4",
			wantStatus: billing.SubscriptionPastDue,
		},
	}

	p := NewWebhookParser(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, header := sign(t, tt.payload)

			ev, err := p.ParseEvent(body, header)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantCust, ev.CustomerID)
			assert.Equal(t, tt.wantEmail, ev.Email)
			assert.Equal(t, tt.wantStatus, ev.SubscriptionStatus)
		})
	}
}

func TestParseEvent_BadSignature(t *testing.T) {
	body, header := sign(t, `{"id":"evt_1","object":"event","type":"invoice.created","data":{"object":{}}}`)

	_, err := NewWebhookParser("whsec_other").ParseEvent(body, header)
	assert.ErrorIs(t, err, billing.ErrInvalidSignature)

	_, err = NewWebhookParser(testSecret).ParseEvent(body, "")
	assert.ErrorIs(t, err, billing.ErrInvalidSignature)

	_, err = NewWebhookParser(testSecret).ParseEvent([]byte(`{"tampered":true}`), header)
	assert.ErrorIs(t, err, billing.ErrInvalidSignature)
}

func TestParseEvent_StaleTimestamp(t *testing.T) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(`{"id":"evt_1","object":"event","type":"invoice.created","data":{"object":{}}}`),
		Secret:    testSecret,
		Timestamp: time.Now().Add(-time.Hour),
		Scheme:    "v1",
	})

	_, err := NewWebhookParser(testSecret).ParseEvent(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, billing.ErrInvalidSignature)
}
