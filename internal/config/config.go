// Package config loads server and CLI settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	minSessionSecret = 32
)

// Config is every setting the binaries read. Defaults suit local development
// with SQLite and no auth provider.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`
	SiteURL     string `env:"SITE_URL" envDefault:"http://localhost:5173"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Database Database
	Stripe   Stripe
	Clerk    Clerk
	Session  Session

	// RateLimitRedisURL switches the rate limiter to a shared Redis store.
	// Empty keeps counters in process memory.
	RateLimitRedisURL string `env:"RATE_LIMIT_REDIS_URL"`

	// MetricsAddr is the private listener for /metrics, e.g. 127.0.0.1:9090.
	// Empty disables the endpoint.
	MetricsAddr string `env:"METRICS_ADDR"`

	TLS TLS
}

type Database struct {
	Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	Path   string `env:"DB_PATH" envDefault:"data/promptr.db"`
	URL    string `env:"DATABASE_URL"`
}

type Stripe struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	PriceID       string `env:"STRIPE_PRICE_ID"`
	TrialDays     int64  `env:"TRIAL_DAYS" envDefault:"14"`
}

// Clerk configures the auth-provider admin API. An empty secret disables
// identity lookups and auth-user cleanup.
type Clerk struct {
	SecretKey string `env:"CLERK_SECRET_KEY"`
	APIURL    string `env:"CLERK_API_URL"`
}

// Session selects how dashboard session tokens are verified. With neither a
// secret nor a JWKS URL the dashboard routes are open.
type Session struct {
	JWTSecret string `env:"SESSION_JWT_SECRET"`
	JWKSURL   string `env:"SESSION_JWKS_URL"`
	Issuer    string `env:"SESSION_ISSUER"`
}

type TLS struct {
	Domains  []string `env:"TLS_DOMAINS" envSeparator:","`
	CacheDir string   `env:"TLS_CACHE_DIR" envDefault:"data/autocert"`
}

// Load reads .env (if any) and parses the environment into a Config.
// It does not validate; call Validate before serving.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &cfg, nil
}

func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// Validate reports every problem at once so a misconfigured deploy can be
// fixed in one pass.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("ENVIRONMENT must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Environment))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.Database.Driver))
	}

	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required"))
	}
	if c.Stripe.PriceID == "" {
		errs = append(errs, errors.New("STRIPE_PRICE_ID is required"))
	}
	if c.Stripe.TrialDays < 0 {
		errs = append(errs, fmt.Errorf("TRIAL_DAYS must not be negative, got %d", c.Stripe.TrialDays))
	}

	if s := c.Session.JWTSecret; s != "" && len(s) < minSessionSecret {
		errs = append(errs, fmt.Errorf("SESSION_JWT_SECRET must be at least %d characters", minSessionSecret))
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("METRICS_ADDR must be host:port, got %q", c.MetricsAddr))
		}
	}

	if c.Production() && (c.SiteURL == "" || strings.Contains(c.SiteURL, "localhost")) {
		errs = append(errs, errors.New("SITE_URL must be the public site in production"))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// Unknown levels fall back to info.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
