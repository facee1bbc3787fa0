package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sakif/promptr-access/internal/auth"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/billing/stripe"
	"github.com/sakif/promptr-access/internal/config"
	"github.com/sakif/promptr-access/internal/identity"
	"github.com/sakif/promptr-access/internal/identity/clerk"
	"github.com/sakif/promptr-access/internal/ratelimit"
	"github.com/sakif/promptr-access/internal/repository"
	"github.com/sakif/promptr-access/internal/repository/postgres"
	"github.com/sakif/promptr-access/internal/repository/sqlite"
)

// Deps are the external collaborators the router is built from. New fills
// them from configuration; tests pass fakes.
type Deps struct {
	Repo      repository.UserAccessRepository
	Payments  billing.Provider
	Webhooks  billing.WebhookParser
	Directory identity.Directory

	// Sessions guards the dashboard routes. Nil leaves them open.
	Sessions *auth.SessionVerifier

	// RateStore backs every limiter. The server closes it on shutdown.
	RateStore ratelimit.Store
	Clock     clockwork.Clock
}

// OpenRepository opens the configured database. Postgres migrations run
// here as well, so a fresh database is usable straight away.
func OpenRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.UserAccessRepository, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := postgres.New(ctx, postgres.Config{URL: cfg.Database.URL})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, logger); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil

	case config.DriverSQLite:
		if cfg.Database.Path != ":memory:" {
			// mkdir -p for the data directory.
			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqlite.New(cfg.Database.Path)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// NewDirectory returns the Clerk client, or identity.Disabled without a key.
func NewDirectory(cfg *config.Config) identity.Directory {
	if cfg.Clerk.SecretKey == "" {
		return identity.Disabled{}
	}
	return clerk.New(cfg.Clerk.SecretKey, cfg.Clerk.APIURL)
}

func newSessionVerifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*auth.SessionVerifier, error) {
	switch {
	case cfg.Session.JWKSURL != "":
		return auth.NewJWKSVerifier(ctx, cfg.Session.JWKSURL, cfg.Session.Issuer)
	case cfg.Session.JWTSecret != "":
		return auth.NewHMACVerifier(cfg.Session.JWTSecret, cfg.Session.Issuer)
	}
	logger.Warn("no session verifier configured, dashboard routes are open")
	return nil, nil
}

func newRateStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (ratelimit.Store, error) {
	if cfg.RateLimitRedisURL == "" {
		return ratelimit.NewMemoryStore(ratelimit.WithClock(clock)), nil
	}
	client, err := ratelimit.ConnectRedis(ctx, cfg.RateLimitRedisURL, 3, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewRedisStore(client, clock), nil
}

// newDeps builds Deps from configuration. On error, anything already opened
// is closed.
func newDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Deps, error) {
	repo, err := OpenRepository(ctx, cfg, logger)
	if err != nil {
		return Deps{}, fmt.Errorf("opening database: %w", err)
	}

	sessions, err := newSessionVerifier(ctx, cfg, logger)
	if err != nil {
		repo.Close()
		return Deps{}, fmt.Errorf("session verifier: %w", err)
	}

	clock := clockwork.NewRealClock()
	store, err := newRateStore(ctx, cfg, clock)
	if err != nil {
		repo.Close()
		return Deps{}, fmt.Errorf("rate limit store: %w", err)
	}

	return Deps{
		Repo:      repo,
		Payments:  stripe.New(cfg.Stripe.SecretKey, nil),
		Webhooks:  stripe.NewWebhookParser(cfg.Stripe.WebhookSecret),
		Directory: NewDirectory(cfg),
		Sessions:  sessions,
		RateStore: store,
		Clock:     clock,
	}, nil
}
