// Package auth verifies dashboard sessions issued by the auth provider.
//
// The website forwards the signed-in user's session JWT as a bearer token.
// Two key sources are supported:
//
//	- HS256 with a shared secret (a provider JWT template signed with the
//	  project's JWT secret), set with SESSION_JWT_SECRET;
//	- RS256 with keys fetched from a JWKS endpoint, set with SESSION_JWKS_URL.
//
// Either way the issuer is checked when configured and exp is required.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const leeway = 30 * time.Second

var (
	ErrNoSession      = errors.New("auth: no session token")
	ErrInvalidSession = errors.New("auth: invalid session token")
)

// Claims is what handlers learn about the signed-in user.
type Claims struct {
	Subject string
	Email   string
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionVerifier validates session JWTs.
type SessionVerifier struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc
}

// NewHMACVerifier accepts HS256 tokens signed with secret.
func NewHMACVerifier(secret, issuer string) (*SessionVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: session secret must be at least 32 characters")
	}
	key := []byte(secret)
	return &SessionVerifier{
		parser: newParser(issuer, jwt.SigningMethodHS256.Name),
		keyfunc: func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		},
	}, nil
}

// NewJWKSVerifier accepts RS256 tokens whose kid is published at jwksURL.
// Keys are refreshed in the background until ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*SessionVerifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, errors.New("auth: empty JWKS URL")
	}
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: loading JWKS: %w", err)
	}
	return &SessionVerifier{
		parser:  newParser(issuer, jwt.SigningMethodRS256.Name),
		keyfunc: k.Keyfunc,
	}, nil
}

func newParser(issuer, method string) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return jwt.NewParser(opts...)
}

// Verify parses and checks tokenStr. Every failure wraps ErrInvalidSession.
func (v *SessionVerifier) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, ErrNoSession
	}

	var c sessionClaims
	token, err := v.parser.ParseWithClaims(tokenStr, &c, v.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidSession)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid {
		return nil, ErrInvalidSession
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidSession)
	}

	return &Claims{
		Subject: c.Subject,
		Email:   strings.ToLower(strings.TrimSpace(c.Email)),
	}, nil
}
