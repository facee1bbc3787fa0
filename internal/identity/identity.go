// Package identity resolves and removes users at the auth provider that owns
// dashboard sign-in.
package identity

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned when no auth provider credentials are set.
	ErrNotConfigured = errors.New("identity: auth provider not configured")

	ErrUserNotFound = errors.New("identity: user not found")
)

// Directory is the slice of the auth provider's admin API the services use.
type Directory interface {
	// LookupEmail returns the primary email address of userID.
	LookupEmail(ctx context.Context, userID string) (string, error)

	// FindUserIDsByEmail returns every user holding that address; usually
	// zero or one.
	FindUserIDsByEmail(ctx context.Context, email string) ([]string, error)

	DeleteUser(ctx context.Context, userID string) error
}

// Disabled is the Directory used when no credentials are configured.
type Disabled struct{}

func (Disabled) LookupEmail(context.Context, string) (string, error) {
	return "", ErrNotConfigured
}

func (Disabled) FindUserIDsByEmail(context.Context, string) ([]string, error) {
	return nil, ErrNotConfigured
}

func (Disabled) DeleteUser(context.Context, string) error {
	return ErrNotConfigured
}
