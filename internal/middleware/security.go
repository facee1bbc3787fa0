package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Header values sent with every response.
const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type, stripe-signature"
	corsAllowMethods = "POST, OPTIONS"
	corsMaxAge       = "86400"
)

var securityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "1; mode=block",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
}

// SecurityConfig decides which browser origins may call the API.
type SecurityConfig struct {
	// Production restricts CORS to SiteURL. Otherwise every origin is allowed.
	Production bool
	SiteURL    string
}

// AllowedOrigins is SiteURL as configured plus its https:// form.
func (c SecurityConfig) AllowedOrigins() []string {
	site := strings.TrimRight(c.SiteURL, "/")
	if site == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(site, "https://"), "http://")
	origins := []string{site}
	if https := "https://" + host; https != site {
		origins = append(origins, https)
	}
	return origins
}

// OriginAllowed reports whether a request from origin may proceed. Outside
// production every origin passes; in production a missing origin fails.
func (c SecurityConfig) OriginAllowed(origin string) bool {
	if !c.Production {
		return true
	}
	return origin != "" && slices.Contains(c.AllowedOrigins(), origin)
}

// allowOrigin is the Access-Control-Allow-Origin value for origin.
func (c SecurityConfig) allowOrigin(origin string) string {
	if !c.Production || origin == "" {
		return "*"
	}
	if slices.Contains(c.AllowedOrigins(), origin) {
		return origin
	}
	return "null"
}

// Security sets CORS and hardening headers on every response and answers
// preflight requests directly.
func Security(cfg SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", cfg.allowOrigin(r.Header.Get("Origin")))
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			h.Add("Vary", "Origin")
			for k, v := range securityHeaders {
				h.Set(k, v)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AllowMethods answers 405 for any method not listed. OPTIONS is listed
// implicitly; Security has already answered it.
func AllowMethods(methods ...string) func(http.Handler) http.Handler {
	allowed := append(slices.Clone(methods), http.MethodOptions)
	message := "Only " + strings.Join(allowed, ", ") + " methods are allowed"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(allowed, r.Method) {
				w.Header().Set("Allow", strings.Join(allowed, ", "))
				writeError(w, http.StatusMethodNotAllowed, "Method not allowed", message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOrigin answers 403 when the request's Origin is not allowed.
func RequireOrigin(cfg SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.OriginAllowed(r.Header.Get("Origin")) {
				writeError(w, http.StatusForbidden, "Origin not allowed", "Request origin is not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorEnvelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// writeError writes the API's error envelope. Handlers have their own copy in
// handler/response.go, which also carries validation details.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(errorEnvelope{
		Error:     errType,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("failed to encode error response", slog.String("error", err.Error()))
	}
}
