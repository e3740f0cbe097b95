package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"welfare/internal/domain/session"
)

const issuer = "welfare"

// Claims are carried by an access token.
type Claims struct {
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

// NewTokens creates a token issuer.
// PRE: len(secret) >= 32; ttl > 0
func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{secret: secret, ttl: ttl}
}

// TTL returns the access token lifetime.
func (t *Tokens) TTL() time.Duration {
	return t.ttl
}

// Issue signs an access token for sess valid from now until now+TTL.
// POST: Returns the token and its expiry
func (t *Tokens) Issue(sess session.Session, role string, now time.Time) (string, time.Time, error) {
	exp := now.Add(t.ttl)
	claims := Claims{
		SessionID: sess.ID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   sess.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies token at now. An expired token yields session.ErrJWTExpired,
// anything else unverifiable yields session.ErrSessionNotFound.
func (t *Tokens) Parse(token string, now time.Time) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, session.ErrJWTExpired
	case err != nil:
		return Claims{}, fmt.Errorf("%w: %v", session.ErrSessionNotFound, err)
	case claims.SessionID == "":
		return Claims{}, session.ErrSessionNotFound
	}
	return claims, nil
}
