// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides:
// - Which URL patterns map to which handler functions
// - Which rate limiter, method filter and session check guard each route
// - How the server starts (plain HTTP or automatic TLS) and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and calls New, which builds Deps:
//
//	repository (sqlite | postgres) ─┐
//	stripe client + webhook parser ─┼→ services → handlers → routes
//	clerk directory ────────────────┤
//	session verifier, rate store ───┘
//
// Tests call NewWithDeps with fakes and drive Handler() through httptest.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/acme/autocert"

	"github.com/sakif/promptr-access/internal/auth"
	"github.com/sakif/promptr-access/internal/config"
	"github.com/sakif/promptr-access/internal/handler"
	"github.com/sakif/promptr-access/internal/middleware"
	"github.com/sakif/promptr-access/internal/ratelimit"
	"github.com/sakif/promptr-access/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server owns the router and the resources it must release on shutdown:
// the database and the rate-limit store.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	deps   Deps
}

// New builds every dependency from cfg and wires the routes.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	deps, err := newDeps(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithDeps(cfg, deps, logger), nil
}

// NewWithDeps wires the routes around already-built dependencies.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler serves Prometheus on its own listener (METRICS_ADDR), never
// on the public router.
func (s *Server) MetricsHandler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET       /healthz                       → database ping
// POST      /api/create-checkout-session   → general limiter, session
// POST      /api/stripe-webhooks           → webhook limiter, Stripe signature
// POST      /api/manage-subscription       → general limiter, session
// POST      /api/validate-token            → token limiter
// POST      /api/get-user-token            → auth limiter, session
// GET|POST  /api/promptr-token-check       → token limiter
// POST      /api/validate-clerk-user       → token limiter, origin check
// POST      /api/user-self-deletion        → auth limiter, session
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns the id the logger prints
// 2. RealIP: rewrites RemoteAddr from proxy headers
// 3. Recoverer: a panic becomes a 500 instead of a crash
// 4. Logger: one line per request, plus the latency histogram
// 5. Security: CORS, hardening headers, and preflight answers
//
// Routes use Handle rather than Post so that AllowMethods, not chi, answers
// a wrong method with the API's error envelope.
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	security := middleware.SecurityConfig{
		Production: s.config.Production(),
		SiteURL:    s.config.SiteURL,
	}
	s.router.Use(middleware.Security(security))

	// === Services ===
	d := s.deps
	checkoutSvc := service.NewCheckoutService(d.Repo, d.Payments, service.CheckoutConfig{
		SiteURL:   s.config.SiteURL,
		PriceID:   s.config.Stripe.PriceID,
		TrialDays: s.config.Stripe.TrialDays,
	}, s.logger)
	webhookSvc := service.NewWebhookService(d.Repo, nil, s.logger)
	subscriptionSvc := service.NewSubscriptionService(d.Repo, d.Payments, nil, s.config.SiteURL, s.logger)
	accessSvc := service.NewAccessService(d.Repo, d.Directory, nil, s.logger)
	accountSvc := service.NewAccountService(d.Repo, d.Payments, d.Directory, s.logger)

	// === Handlers ===
	checkoutH := handler.NewCheckoutHandler(checkoutSvc, s.logger)
	webhookH := handler.NewWebhookHandler(d.Webhooks, webhookSvc, s.logger)
	subscriptionH := handler.NewSubscriptionHandler(subscriptionSvc, s.logger)
	accessH := handler.NewAccessHandler(accessSvc, s.logger)
	accountH := handler.NewAccountHandler(accountSvc, s.logger)
	healthH := handler.NewHealthHandler(d.Repo, s.logger)

	// === Limiters ===
	limit := func(b ratelimit.Budget) func(http.Handler) http.Handler {
		return middleware.RateLimit(ratelimit.New(b, d.RateStore, d.Clock), s.logger)
	}
	tokenLimit := limit(ratelimit.TokenValidation)
	generalLimit := limit(ratelimit.GeneralAPI)
	webhookLimit := limit(ratelimit.Webhooks)
	authLimit := limit(ratelimit.AuthOperations)

	session := auth.RequireSession(d.Sessions, handler.Unauthorized(s.logger))
	post := middleware.AllowMethods(http.MethodPost)

	s.router.Get("/healthz", healthH.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.With(post, generalLimit, session).
			HandleFunc("/create-checkout-session", checkoutH.HandleCreateSession)
		r.With(post, webhookLimit).
			HandleFunc("/stripe-webhooks", webhookH.HandleStripe)
		r.With(post, generalLimit, session).
			HandleFunc("/manage-subscription", subscriptionH.HandleManage)
		r.With(post, tokenLimit).
			HandleFunc("/validate-token", accessH.HandleValidateToken)
		r.With(post, authLimit, session).
			HandleFunc("/get-user-token", accessH.HandleGetUserToken)
		r.With(middleware.AllowMethods(http.MethodGet, http.MethodPost), tokenLimit).
			HandleFunc("/promptr-token-check", accessH.HandlePromptrTokenCheck)
		r.With(post, middleware.RequireOrigin(security), tokenLimit).
			HandleFunc("/validate-clerk-user", accessH.HandleValidateUser)
		r.With(post, authLimit, session).
			HandleFunc("/user-self-deletion", accountH.HandleSelfDelete)
	})
}

// Close releases the rate-limit store and the database.
func (s *Server) Close() error {
	var errs []error
	if s.deps.RateStore != nil {
		if err := s.deps.RateStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rate limit store: %w", err))
		}
	}
	if err := s.deps.Repo.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM and then shuts down gracefully:
// 1. Stop accepting new connections
// 2. Wait up to 30s for in-flight requests (webhook writes included)
// 3. Close the rate-limit store and the database
//
// With TLS_DOMAINS set the server listens on :443 with certificates from
// Let's Encrypt and answers ACME challenges on :80. With METRICS_ADDR set,
// /metrics is served on that address only.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var challenge *http.Server
	if domains := s.config.TLS.Domains; len(domains) > 0 {
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(domains...),
			Cache:      autocert.DirCache(s.config.TLS.CacheDir),
		}
		srv.Addr = ":443"
		srv.TLSConfig = m.TLSConfig()
		challenge = &http.Server{
			Addr:              ":80",
			Handler:           m.HTTPHandler(nil),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	var metricsSrv *http.Server
	if s.config.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              s.config.MetricsAddr,
			Handler:           s.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 3)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("environment", s.config.Environment),
			slog.String("database", s.config.Database.Driver),
			slog.Bool("tls", challenge != nil),
		)
		if challenge != nil {
			serverErrors <- srv.ListenAndServeTLS("", "")
			return
		}
		serverErrors <- srv.ListenAndServe()
	}()
	if challenge != nil {
		go func() {
			serverErrors <- challenge.ListenAndServe()
		}()
	}
	if metricsSrv != nil {
		go func() {
			s.logger.Info("metrics listener starting", slog.String("addr", metricsSrv.Addr))
			serverErrors <- metricsSrv.ListenAndServe()
		}()
	}

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if challenge != nil {
			_ = challenge.Shutdown(ctx)
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx)
		}
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
