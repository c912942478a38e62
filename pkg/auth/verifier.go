// Package auth verifies client bearer tokens before any session state is
// created.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned for any token that fails verification.
var ErrUnauthorized = errors.New("unauthorized")

// Claims is the verified identity attached to a connection.
type Claims struct {
	Subject string
	UserID  string
	Raw     map[string]any
}

// Verifier checks a bearer token and returns its claims.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// JWTVerifier validates HMAC-signed JWTs against a shared signing key,
// with optional issuer and audience checks.
type JWTVerifier struct {
	signingKey []byte
	issuer     string
	audience   string
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier. issuer and audience are enforced only
// when non-empty.
func NewJWTVerifier(signingKey, issuer, audience string) (*JWTVerifier, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("auth signing key is required")
	}
	return &JWTVerifier{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}, nil
}

// Verify parses and validates the token.
func (v *JWTVerifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer"))
	if token == "" {
		return nil, ErrUnauthorized
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.signingKey, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}

	claims := &Claims{Raw: map[string]any(mapClaims)}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	claims.UserID = claims.Subject
	if username, ok := mapClaims["username"].(string); ok && username != "" {
		claims.UserID = username
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims, nil
}
