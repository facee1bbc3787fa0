// Package clerk implements identity.Directory on the Clerk Backend API.
package clerk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	clerksdk "github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"

	"github.com/sakif/promptr-access/internal/identity"
)

// Client wraps the SDK's users client for one instance secret key.
type Client struct {
	users *user.Client
}

var _ identity.Directory = (*Client)(nil)

// New returns a Client. An empty baseURL keeps the SDK's default API host.
func New(secretKey, baseURL string) *Client {
	cfg := &clerksdk.ClientConfig{}
	cfg.Key = clerksdk.String(secretKey)
	cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	if baseURL != "" {
		cfg.URL = clerksdk.String(strings.TrimRight(baseURL, "/"))
	}
	return &Client{users: user.NewClient(cfg)}
}

func (c *Client) LookupEmail(ctx context.Context, userID string) (string, error) {
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		return "", mapError("getting user "+userID, err)
	}
	email := primaryEmail(u)
	if email == "" {
		return "", fmt.Errorf("clerk: user %s has no email address", userID)
	}
	return email, nil
}

func (c *Client) FindUserIDsByEmail(ctx context.Context, email string) ([]string, error) {
	list, err := c.users.List(ctx, &user.ListParams{EmailAddresses: []string{email}})
	if err != nil {
		return nil, mapError("listing users", err)
	}

	ids := make([]string, 0, len(list.Users))
	for _, u := range list.Users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if _, err := c.users.Delete(ctx, userID); err != nil {
		return mapError("deleting user "+userID, err)
	}
	return nil
}

// primaryEmail falls back to the first address when no primary is marked.
func primaryEmail(u *clerksdk.User) string {
	if u.PrimaryEmailAddressID != nil {
		for _, e := range u.EmailAddresses {
			if e.ID == *u.PrimaryEmailAddressID {
				return e.EmailAddress
			}
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// mapError turns a 404 from the API into identity.ErrUserNotFound.
func mapError(op string, err error) error {
	var apiErr *clerksdk.APIErrorResponse
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return identity.ErrUserNotFound
	}
	return fmt.Errorf("clerk: %s: %w", op, err)
}
