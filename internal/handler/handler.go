// Package handler holds the JSON endpoints under /api.
//
// Each handler depends on a small interface rather than a concrete service,
// so tests can swap in a mock the same way the services swap repositories.
package handler

import (
	"context"

	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/service"
)

type CheckoutCreator interface {
	CreateSession(ctx context.Context, email string) (string, error)
}

type WebhookApplier interface {
	Apply(ctx context.Context, ev *billing.Event) (service.Outcome, error)
}

type SubscriptionManager interface {
	Handle(ctx context.Context, action, email, origin string) (*service.SubscriptionResult, error)
}

type AccessChecker interface {
	ValidateToken(ctx context.Context, token string) (bool, error)
	GetUserToken(ctx context.Context, email string) (*service.UserToken, error)
	CheckPromptrToken(ctx context.Context, token string) (*service.TokenStatus, error)
	ValidateUser(ctx context.Context, email, userID string) (*service.UserAccessResult, error)
}

type AccountDeleter interface {
	SelfDelete(ctx context.Context, email string) (*service.DeletionReport, error)
}
