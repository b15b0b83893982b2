// Package auth holds the credential primitives the identity gateway is built
// from: signed access tokens, password hashes, the GitHub OAuth exchange and
// the HTTP middleware that turns a token back into a user ID.
//
// TOKEN FLOW:
//  1. The gateway signs a user in (password or GitHub) and calls Generate
//  2. The token travels back to the client as an HttpOnly cookie and in the
//     JSON body, so API clients can send it as "Authorization: Bearer <jwt>"
//  3. OptionalAuth / RequireAuth validate it on every request and put the
//     user ID in the request context
//
// Tokens are stateless HS256 JWTs. "sub" carries the user ID, which is also
// the profile ID, so no lookup is needed to know who is calling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "inkwell"

	// DefaultTokenTTL applies when NewTokenService is given a zero TTL.
	DefaultTokenTTL = time.Hour
)

// ErrTokenExpired is returned by Validate for a well-signed token past its
// expiry, so callers can tell "refresh" apart from "sign in again".
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and verifies access tokens with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. The secret must be at least 16
// bytes; in production use something like $(openssl rand -hex 32).
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime given to tokens from Generate.
func (s *TokenService) TTL() time.Duration { return s.ttl }

type claims struct {
	jwt.RegisteredClaims
}

// Generate signs a token for userID valid for the configured TTL.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration signs a token with an explicit lifetime. Tests use a
// negative duration to get an already expired token.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, issuer and expiry, and returns the user ID
// from "sub".
//
// ALGORITHM CONFUSION:
// Only HS256 is accepted. Without WithValidMethods a token claiming
// alg "none" could slip through.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	userID, _, err := s.ValidateWithExpiry(tokenStr)
	return userID, err
}

// ValidateWithExpiry is Validate that also returns the token's expiry.
func (s *TokenService) ValidateWithExpiry(tokenStr string) (string, time.Time, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", time.Time{}, ErrTokenExpired
		}
		return "", time.Time{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", time.Time{}, errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", time.Time{}, errors.New("auth: token has no subject")
	}
	return c.Subject, c.ExpiresAt.Time.UTC(), nil
}
