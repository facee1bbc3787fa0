package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/validation"
)

func newTestSubscriptionService(t *testing.T, siteURL string) (*SubscriptionService, *fakeRepo, *fakeBilling) {
	t.Helper()
	repo := newFakeRepo()
	payments := newFakeBilling()
	svc := NewSubscriptionService(repo, payments, fixedTokens(tokenA), siteURL, discardLogger())
	return svc, repo, payments
}

var errMissing = fmt.Errorf("stripe: listing subscriptions: %w", billing.ErrCustomerMissing)

// =========================================================================
// INPUT
// =========================================================================

func TestHandle_RejectsBadInput(t *testing.T) {
	svc, _, _ := newTestSubscriptionService(t, "")

	_, err := svc.Handle(context.Background(), "upgrade_plan", "bob@example.com", "")
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.Handle(context.Background(), validation.ActionGetSubscriptionStatus, "bob", "")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

// =========================================================================
// GET SUBSCRIPTION STATUS
// =========================================================================

func TestStatus_AutoCreatesMissingRecord(t *testing.T) {
	svc, repo, _ := newTestSubscriptionService(t, "")

	res, err := svc.Handle(context.Background(), validation.ActionGetSubscriptionStatus, "new@example.com", "")
	require.NoError(t, err)
	require.NotNil(t, res.Subscription)

	assert.Equal(t, model.StatusTrialing, res.Subscription.Status)
	assert.Equal(t, model.PlanName, res.Subscription.Plan)
	assert.Equal(t, model.PlanAmount, res.Subscription.Amount)

	ua := repo.get("new@example.com")
	require.NotNil(t, ua)
	assert.Equal(t, tokenA, ua.AccessToken)
	assert.Nil(t, ua.StripeCustomerID)
}

func TestStatus_UsesNewestProviderSubscription(t *testing.T) {
	svc, repo, payments := newTestSubscriptionService(t, "")
	repo.seed("bob@example.com", tokenA, "cus_1", model.StatusTrialing)

	periodEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	payments.subs["cus_1"] = []billing.Subscription{
		{ID: "sub_old", Status: billing.SubscriptionCanceled, Created: time.Unix(100, 0)},
		{ID: "sub_new", Status: billing.SubscriptionActive, Created: time.Unix(200, 0), CurrentPeriodEnd: &periodEnd, CancelAtPeriodEnd: true},
	}

	res, err := svc.Handle(context.Background(), validation.ActionGetSubscriptionStatus, "bob@example.com", "")
	require.NoError(t, err)

	assert.Equal(t, model.StatusActive, res.Subscription.Status)
	assert.True(t, res.Subscription.CancelAtPeriodEnd)
	require.NotNil(t, res.Subscription.CurrentPeriodEnd)
	assert.True(t, periodEnd.Equal(*res.Subscription.CurrentPeriodEnd))
}

func TestStatus_OrphanedCustomerIsScrubbed(t *testing.T) {
	svc, repo, payments := newTestSubscriptionService(t, "")
	repo.seed("bob@example.com", tokenA, "cus_gone", model.StatusActive)
	payments.listErr = errMissing

	res, err := svc.Handle(context.Background(), validation.ActionGetSubscriptionStatus, "bob@example.com", "")
	require.NoError(t, err)

	assert.Equal(t, model.StatusActive, res.Subscription.Status, "answers from local state")
	assert.Nil(t, repo.get("bob@example.com").StripeCustomerID)
}

func TestStatus_OtherProviderErrorsKeepCustomer(t *testing.T) {
	svc, repo, payments := newTestSubscriptionService(t, "")
	repo.seed("bob@example.com", tokenA, "cus_1", model.StatusActive)
	payments.listErr = errors.New("timeout")

	res, err := svc.Handle(context.Background(), validation.ActionGetSubscriptionStatus, "bob@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, res.Subscription.Status)
	assert.Equal(t, "cus_1", repo.get("bob@example.com").CustomerID())
}

// =========================================================================
// CUSTOMER PORTAL
// =========================================================================

func TestPortal(t *testing.T) {
	t.Run("no customer", func(t *testing.T) {
		svc, _, _ := newTestSubscriptionService(t, "https://promptr.dev")
		_, err := svc.Handle(context.Background(), validation.ActionCreateCustomerPortal, "bob@example.com", "")

		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.ErrorIs(t, err, apperror.ErrBadRequest)
		assert.Equal(t, "No Stripe customer ID found", appErr.Message)
	})

	t.Run("site url wins over origin", func(t *testing.T) {
		svc, repo, payments := newTestSubscriptionService(t, "https://promptr.dev")
		repo.seed("bob@example.com", tokenA, "cus_1", model.StatusActive)

		res, err := svc.Handle(context.Background(), validation.ActionCreateCustomerPortal, "bob@example.com", "https://evil.example")
		require.NoError(t, err)
		assert.NotEmpty(t, res.URL)
		assert.Equal(t, []string{"https://promptr.dev/account"}, payments.portalCalls)
	})

	t.Run("origin fallback", func(t *testing.T) {
		svc, repo, payments := newTestSubscriptionService(t, "")
		repo.seed("bob@example.com", tokenA, "cus_1", model.StatusActive)

		_, err := svc.Handle(context.Background(), validation.ActionCreateCustomerPortal, "bob@example.com", "http://localhost:3000")
		require.NoError(t, err)
		assert.Equal(t, []string{"http://localhost:3000/account"}, payments.portalCalls)
	})

	t.Run("orphaned customer", func(t *testing.T) {
		svc, repo, payments := newTestSubscriptionService(t, "")
		repo.seed("bob@example.com", tokenA, "cus_gone", model.StatusActive)
		payments.portalErr = errMissing

		_, err := svc.Handle(context.Background(), validation.ActionCreateCustomerPortal, "bob@example.com", "")
		var appErr *apperror.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "Customer not found in Stripe", appErr.Message)
		assert.Nil(t, repo.get("bob@example.com").StripeCustomerID)
	})
}

// =========================================================================
// CANCEL SUBSCRIPTION
// =========================================================================

func TestCancel(t *testing.T) {
	tests := []struct {
		name        string
		customer    string
		subs        []billing.Subscription
		listErr     error
		wantMessage string
		wantStatus  model.Status
		wantCancel  []string
		wantAtEnd   []string
		wantNoCust  bool
	}{
		{
			name:        "no customer id",
			wantMessage: "Your trial has been cancelled",
			wantStatus:  model.StatusInactive,
		},
		{
			name:        "no live subscription",
			customer:    "cus_1",
			subs:        []billing.Subscription{{ID: "sub_1", Status: billing.SubscriptionCanceled}},
			wantMessage: "Your trial has been cancelled",
			wantStatus:  model.StatusInactive,
		},
		{
			name:        "trialing is cancelled now",
			customer:    "cus_1",
			subs:        []billing.Subscription{{ID: "sub_1", Status: billing.SubscriptionTrialing}},
			wantMessage: "Your trial has been cancelled",
			wantStatus:  model.StatusInactive,
			wantCancel:  []string{"sub_1"},
		},
		{
			name:        "active runs to period end",
			customer:    "cus_1",
			subs:        []billing.Subscription{{ID: "sub_1", Status: billing.SubscriptionActive}},
			wantMessage: "Subscription will be cancelled at the end of the billing period",
			wantStatus:  model.StatusActive,
			wantAtEnd:   []string{"sub_1"},
		},
		{
			name:        "orphaned customer",
			customer:    "cus_gone",
			listErr:     errMissing,
			wantMessage: "Your trial has been cancelled",
			wantStatus:  model.StatusInactive,
			wantNoCust:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, payments := newTestSubscriptionService(t, "")
			repo.seed("bob@example.com", tokenA, tt.customer, model.StatusActive)
			if tt.customer != "" {
				payments.subs[tt.customer] = tt.subs
			}
			payments.listErr = tt.listErr

			res, err := svc.Handle(context.Background(), validation.ActionCancelSubscription, "bob@example.com", "")
			require.NoError(t, err)

			assert.Equal(t, tt.wantMessage, res.Message)
			ua := repo.get("bob@example.com")
			assert.Equal(t, tt.wantStatus, ua.Status)
			assert.Equal(t, tt.wantCancel, payments.cancelled)
			assert.Equal(t, tt.wantAtEnd, payments.periodEnd)
			if tt.wantNoCust {
				assert.Nil(t, ua.StripeCustomerID)
			}
		})
	}
}

func TestCancel_ProviderFailure(t *testing.T) {
	svc, repo, payments := newTestSubscriptionService(t, "")
	repo.seed("bob@example.com", tokenA, "cus_1", model.StatusActive)
	payments.subs["cus_1"] = []billing.Subscription{{ID: "sub_1", Status: billing.SubscriptionActive}}
	payments.periodEndErr = errors.New("card_declined")

	_, err := svc.Handle(context.Background(), validation.ActionCancelSubscription, "bob@example.com", "")

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Failed to cancel subscription", appErr.Message)
	assert.Equal(t, model.StatusActive, repo.get("bob@example.com").Status)
}

// =========================================================================
// DELETE ACCOUNT
// =========================================================================

func TestDeleteAccount(t *testing.T) {
	svc, repo, payments := newTestSubscriptionService(t, "")
	repo.seed("bob@example.com", tokenA, "cus_1", model.StatusActive)
	payments.subs["cus_1"] = []billing.Subscription{
		{ID: "sub_live", Status: billing.SubscriptionActive},
		{ID: "sub_dead", Status: billing.SubscriptionCanceled},
	}

	res, err := svc.Handle(context.Background(), validation.ActionDeleteAccount, "bob@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "Account successfully deleted", res.Message)
	assert.Equal(t, []string{"sub_live"}, payments.cancelled)
	assert.Nil(t, repo.get("bob@example.com"))

	// A second call has nothing to do and still succeeds, without creating a row.
	res, err = svc.Handle(context.Background(), validation.ActionDeleteAccount, "bob@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, "Account successfully deleted", res.Message)
	assert.Nil(t, repo.get("bob@example.com"))
}

func TestDeleteAccount_ProviderFailureStillDeletes(t *testing.T) {
	svc, repo, payments := newTestSubscriptionService(t, "")
	repo.seed("bob@example.com", tokenA, "cus_1", model.StatusActive)
	payments.listErr = errors.New("stripe down")

	_, err := svc.Handle(context.Background(), validation.ActionDeleteAccount, "bob@example.com", "")
	require.NoError(t, err)
	assert.Nil(t, repo.get("bob@example.com"))
}

// =========================================================================
// RECONCILE
// =========================================================================

func TestReconcile(t *testing.T) {
	svc, repo, payments := newTestSubscriptionService(t, "")
	repo.seed("bob@example.com", tokenA, "cus_1", model.StatusTrialing)
	payments.subs["cus_1"] = []billing.Subscription{{ID: "sub_1", Status: billing.SubscriptionPastDue}}

	status, err := svc.Reconcile(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, status)
	assert.Equal(t, model.StatusInactive, repo.get("bob@example.com").Status)

	repo.seed("ann@example.com", tokenB, "", model.StatusTrialing)
	_, err = svc.Reconcile(context.Background(), "ann@example.com")
	assert.ErrorIs(t, err, apperror.ErrBadRequest)

	_, err = svc.Reconcile(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
