// Package repository defines the storage contracts used by the service layer.
// Implementations live in sub-packages (sqlite, postgres).
package repository

import (
	"context"

	"github.com/sakif/promptr-access/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserAccessRepository stores the local subscription records.
//
// All lookups return an error wrapping apperror.ErrNotFound when no row
// matches. Emails passed in are expected to be normalised already.
type UserAccessRepository interface {
	// UpsertFromCheckout records a completed checkout. A new row is created as
	// trialing with newToken; an existing row gets the customer id and
	// trialing status but keeps its access token.
	UpsertFromCheckout(ctx context.Context, email, customerID, newToken string) (*model.UserAccess, error)

	// EnsureExists returns the row for email, creating it as trialing with
	// newToken and no customer when missing. created reports which happened.
	EnsureExists(ctx context.Context, email, newToken string) (ua *model.UserAccess, created bool, err error)

	GetByEmail(ctx context.Context, email string) (*model.UserAccess, error)
	GetByAccessToken(ctx context.Context, token string) (*model.UserAccess, error)
	GetByCustomerID(ctx context.Context, customerID string) (*model.UserAccess, error)

	SetStatusByEmail(ctx context.Context, email string, status model.Status) error
	// SetStatusByCustomerID returns the number of rows changed; 0 means no
	// local record references that customer.
	SetStatusByCustomerID(ctx context.Context, customerID string, status model.Status) (int64, error)
	ClearCustomerID(ctx context.Context, email string) error

	// DeleteByEmail reports whether a row was removed.
	DeleteByEmail(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, opts ListOptions) ([]model.UserAccess, error)

	Ping(ctx context.Context) error
	Close() error
}
