// Package client is a Go client for the promptr access API, for the editor
// extension's companion tools and for scripts.
//
//	c := client.New("https://api.promptr.dev")
//	ok, err := c.ValidateToken(ctx, token)
//
// Calls that fail with a retryable error (network, 429, 5xx) are retried
// with exponential backoff: 3 attempts, starting at 1s.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second

	maxResponseBytes = 1 << 20
)

// Client calls the API. The zero value is not usable; use New.
type Client struct {
	baseURL      string
	http         *http.Client
	sessionToken string
	maxAttempts  uint64
	backoff      time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSessionToken sets the dashboard session JWT sent as a bearer token to
// the signed-in routes (get-user-token, manage-subscription).
func WithSessionToken(token string) Option {
	return func(c *Client) { c.sessionToken = token }
}

// WithRetry overrides the attempt count and the first backoff delay.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = uint64(maxAttempts)
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 15 * time.Second},
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenStatus is the answer of CheckPromptrToken.
type TokenStatus struct {
	Valid     bool    `json:"valid"`
	Status    string  `json:"status"`
	Email     string  `json:"email"`
	Message   string  `json:"message"`
	ExpiresAt *string `json:"expires_at"`
}

// UserToken is the answer of GetUserToken.
type UserToken struct {
	Token       string `json:"token"`
	Status      string `json:"status"`
	AutoCreated bool   `json:"auto_created"`
}

// Subscription is the dashboard view of a subscription.
type Subscription struct {
	Status            string     `json:"status"`
	Plan              string     `json:"plan"`
	Amount            int        `json:"amount"`
	Interval          string     `json:"interval"`
	TrialEnd          *time.Time `json:"trial_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}

// ManageResult is the answer of ManageSubscription. Which fields are set
// depends on the action.
type ManageResult struct {
	Message      string        `json:"message"`
	URL          string        `json:"url"`
	Subscription *Subscription `json:"subscription"`
}

// Subscription actions accepted by ManageSubscription.
const (
	ActionStatus = "get_subscription_status"
	ActionPortal = "create_customer_portal"
	ActionCancel = "cancel_subscription"
	ActionDelete = "delete_account"
)

// ValidateToken reports whether token currently grants access.
func (c *Client) ValidateToken(ctx context.Context, token string) (bool, error) {
	var out struct {
		Access bool `json:"access"`
	}
	err := c.do(ctx, http.MethodPost, "/api/validate-token", map[string]string{"token": token}, &out)
	return out.Access, err
}

// CheckPromptrToken is the detailed token check. An unknown token is not an
// error: it comes back with Valid false and the server's message.
func (c *Client) CheckPromptrToken(ctx context.Context, token string) (*TokenStatus, error) {
	var out TokenStatus
	err := c.do(ctx, http.MethodPost, "/api/promptr-token-check", map[string]string{"promptr_token": token}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserToken returns the signed-in user's access token. It needs
// WithSessionToken when the server enforces sessions.
func (c *Client) GetUserToken(ctx context.Context, email string) (*UserToken, error) {
	var out UserToken
	if err := c.do(ctx, http.MethodPost, "/api/get-user-token", map[string]string{"email": email}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ManageSubscription runs one account-dashboard action.
func (c *Client) ManageSubscription(ctx context.Context, action, email string) (*ManageResult, error) {
	var out ManageResult
	body := map[string]string{"action": action, "email": email}
	if err := c.do(ctx, http.MethodPost, "/api/manage-subscription", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one JSON request with retries and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("client: encoding request: %w", err)
	}

	backoff := retry.WithMaxRetries(c.maxAttempts-1, retry.NewExponential(c.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.once(ctx, method, path, payload, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Retryable && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("client: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return networkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env struct {
			Message     string `json:"message"`
			RedirectURL string `json:"redirect_url"`
		}
		_ = json.Unmarshal(body, &env)
		apiErr := statusError(resp.StatusCode, env.Message)
		apiErr.RedirectURL = env.RedirectURL
		return apiErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Type: ErrorUnknown, Status: resp.StatusCode, Message: "Malformed response from server", err: err}
	}
	return nil
}
