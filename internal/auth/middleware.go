package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/promptr-access/internal/apperror"
)

// contextKey keeps claims out of reach of other packages' context keys.
type contextKey string

const claimsKey contextKey = "session"

// FailureFunc writes the response for a rejected request.
type FailureFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireSession rejects requests without a valid bearer session and stores
// the claims in the request context.
//
// A nil verifier disables the check; the routes are then open, which is how
// local development runs without an auth provider.
func RequireSession(v *SessionVerifier, fail FailureFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Verify(bearerToken(r.Header.Get("Authorization")))
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromContext returns (nil, false) for requests that passed through an
// open route.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// EmailMatches stops a signed-in user from acting on another address.
// Sessions without an email claim, and open routes, pass.
func EmailMatches(ctx context.Context, email string) error {
	c, ok := ClaimsFromContext(ctx)
	if !ok || c.Email == "" {
		return nil
	}
	if !strings.EqualFold(c.Email, strings.TrimSpace(email)) {
		return apperror.Forbidden("Email does not match the signed-in user")
	}
	return nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
