package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/promptr-access/internal/auth"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/config"
	"github.com/sakif/promptr-access/internal/identity"
	"github.com/sakif/promptr-access/internal/ratelimit"
	"github.com/sakif/promptr-access/internal/repository/sqlite"
	"github.com/sakif/promptr-access/internal/server"
)

// stubPayments satisfies billing.Provider; the routes exercised here never
// reach Stripe.
type stubPayments struct{}

func (stubPayments) CreateCheckoutSession(context.Context, billing.CheckoutRequest) (string, error) {
	return "https://checkout.stripe.com/c/pay/cs_test", nil
}
func (stubPayments) CreatePortalSession(context.Context, string, string) (string, error) {
	return "https://billing.stripe.com/p/session/test", nil
}
func (stubPayments) ListSubscriptions(context.Context, string) ([]billing.Subscription, error) {
	return nil, nil
}
func (stubPayments) CancelSubscription(context.Context, string) error { return nil }
func (stubPayments) CancelAtPeriodEnd(context.Context, string) error { return nil }
func (stubPayments) ListPaymentMethods(context.Context, string) ([]string, error) { return nil, nil }
func (stubPayments) DetachPaymentMethod(context.Context, string) error { return nil }
func (stubPayments) DeleteCustomer(context.Context, string) error { return nil }

// stubParser accepts any signature and returns the configured event.
type stubParser struct{ event *billing.Event }

func (p *stubParser) ParseEvent([]byte, string) (*billing.Event, error) {
	return p.event, nil
}

type testServer struct {
	*server.Server
	parser *stubParser
}

func newTestServer(t *testing.T, sessions *auth.SessionVerifier) *testServer {
	t.Helper()

	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	parser := &stubParser{}
	cfg := &config.Config{
		Environment: config.EnvDevelopment,
		Port:        8080,
		SiteURL:     "http://localhost:5173",
		Stripe:      config.Stripe{PriceID: "price_123", TrialDays: 14},
	}
	srv := server.NewWithDeps(cfg, server.Deps{
		Repo:      repo,
		Payments:  stubPayments{},
		Webhooks:  parser,
		Directory: identity.Disabled{},
		Sessions:  sessions,
		RateStore: ratelimit.NewMemoryStore(ratelimit.WithClock(clock)),
		Clock:     clock,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { _ = srv.Close() })

	return &testServer{Server: srv, parser: parser}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])

	rr = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "metrics stay off the public router")
	assert.NotContains(t, rr.Body.String(), "promptr_")

	mr := httptest.NewRecorder()
	ts.MetricsHandler().ServeHTTP(mr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, mr.Code)
	assert.Contains(t, mr.Body.String(), "promptr_http_request_duration_seconds")
}

func TestMethodFilterAndPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodGet, "/api/validate-token", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "POST, OPTIONS", rr.Header().Get("Allow"))
	body := decode(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Method not allowed", body["error"])

	rr = ts.do(t, http.MethodOptions, "/api/validate-token", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	// promptr-token-check also accepts GET.
	rr = ts.do(t, http.MethodGet, "/api/promptr-token-check?promptr_token=3f2b8c1e-9a4d-4c7e-8b1f-2d3e4f5a6b7c", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decode(t, rr)["valid"])
}

func TestCheckoutWebhookThenToken(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.parser.event = &billing.Event{
		ID:         "evt_1",
		Type:       billing.EventCheckoutCompleted,
		CustomerID: "cus_1",
		Email:      "Bob@Example.com",
	}
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhooks", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["received"])

	rr = ts.do(t, http.MethodPost, "/api/get-user-token", `{"email":"bob@example.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode(t, rr)
	assert.Equal(t, "trialing", got["status"])
	assert.NotContains(t, got, "auto_created")
	token := got["token"].(string)

	rr = ts.do(t, http.MethodPost, "/api/validate-token", `{"token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["access"])

	// A trialing user cannot start a second checkout.
	rr = ts.do(t, http.MethodPost, "/api/create-checkout-session", `{"email":"bob@example.com"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	ts.parser.event = &billing.Event{ID: "evt_2", Type: billing.EventSubscriptionDeleted, CustomerID: "cus_1"}
	req = httptest.NewRequest(http.MethodPost, "/api/stripe-webhooks", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	ts.Handler().ServeHTTP(httptest.NewRecorder(), req)

	rr = ts.do(t, http.MethodPost, "/api/validate-token", `{"token":"`+token+`"}`)
	assert.Equal(t, false, decode(t, rr)["access"])
}

func TestAuthLimiter(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := range ratelimit.AuthOperations.Limit {
		rr := ts.do(t, http.MethodPost, "/api/get-user-token", `{"email":"bob@example.com"}`)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
	}

	rr := ts.do(t, http.MethodPost, "/api/get-user-token", `{"email":"bob@example.com"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	// Other classes keep their own budget.
	rr = ts.do(t, http.MethodPost, "/api/validate-token", `{"token":"3f2b8c1e-9a4d-4c7e-8b1f-2d3e4f5a6b7c"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDashboardRoutesRequireSession(t *testing.T) {
	verifier, err := auth.NewHMACVerifier("0123456789abcdef0123456789abcdef", "")
	require.NoError(t, err)
	ts := newTestServer(t, verifier)

	for _, path := range []string{
		"/api/create-checkout-session",
		"/api/manage-subscription",
		"/api/get-user-token",
		"/api/user-self-deletion",
	} {
		rr := ts.do(t, http.MethodPost, path, `{"email":"bob@example.com"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	// Extension routes stay open.
	rr := ts.do(t, http.MethodPost, "/api/validate-token", `{"token":"3f2b8c1e-9a4d-4c7e-8b1f-2d3e4f5a6b7c"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}
