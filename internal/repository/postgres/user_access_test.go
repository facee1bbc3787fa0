package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/model"
)

// newTestDB connects to POSTGRES_TEST_URL, migrates and truncates. The suite
// is skipped when the variable is unset.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{URL: url, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.Migrate(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err = db.pool.Exec(ctx, `TRUNCATE user_access`)
	require.NoError(t, err)
	return db
}

func TestNew_EmptyURL(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestUserAccessLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ua, created, err := db.EnsureExists(ctx, "bob@example.com", "3f2b8c1e-9a4d-4c7e-8b1f-2d3e4f5a6b7c")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StatusTrialing, ua.Status)
	assert.Nil(t, ua.StripeCustomerID)

	again, created, err := db.EnsureExists(ctx, "bob@example.com", "7c6b5a4f-3e2d-4f1b-9e7c-4d9a1e8c2b3f")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ua.AccessToken, again.AccessToken)

	linked, err := db.UpsertFromCheckout(ctx, "bob@example.com", "cus_1", "7c6b5a4f-3e2d-4f1b-9e7c-4d9a1e8c2b3f")
	require.NoError(t, err)
	assert.Equal(t, ua.AccessToken, linked.AccessToken)
	assert.Equal(t, "cus_1", linked.CustomerID())

	n, err := db.SetStatusByCustomerID(ctx, "cus_1", model.StatusActive)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	byToken, err := db.GetByAccessToken(ctx, ua.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, byToken.Status)

	require.NoError(t, db.ClearCustomerID(ctx, "bob@example.com"))
	_, err = db.GetByCustomerID(ctx, "cus_1")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	deleted, err := db.DeleteByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, deleted)

	err = db.SetStatusByEmail(ctx, "bob@example.com", model.StatusInactive)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestEnsureExists_TokenCollision(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	const token = "11111111-2222-4333-8444-555555555555"
	_, _, err := db.EnsureExists(ctx, "a@example.com", token)
	require.NoError(t, err)

	_, _, err = db.EnsureExists(ctx, "b@example.com", token)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}
