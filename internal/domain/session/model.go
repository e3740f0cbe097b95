package session

import (
	"errors"
	"strings"
	"time"

	"welfare/internal/domain/account"
)

// Auth errors. The messages double as wire codes and are matched by substring,
// so they keep the auth backend's spelling.
var (
	ErrFetchFailed          = errors.New("Failed to fetch")
	ErrSessionNotFound      = errors.New("session_not_found")
	ErrJWTExpired           = errors.New("JWT expired")
	ErrInvalidRefreshToken  = errors.New("Invalid Refresh Token")
	ErrRefreshTokenNotFound = errors.New("refresh_token_not_found")
)

// invalidSessionMarkers are the substrings that mark an error as a dead session.
var invalidSessionMarkers = []string{
	ErrFetchFailed.Error(),
	ErrSessionNotFound.Error(),
	ErrJWTExpired.Error(),
	ErrInvalidRefreshToken.Error(),
	ErrRefreshTokenNotFound.Error(),
}

// IsInvalidSession reports whether err means the local session can no longer be trusted.
// Matching is by substring so wrapped and remote errors are recognised.
func IsInvalidSession(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range invalidSessionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Session is a backend-issued credential pair for one signed-in browser.
type Session struct {
	ID               string
	UserID           string
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time // access token expiry
	RefreshExpiresAt time.Time
	CreatedAt        time.Time
	RefreshedAt      time.Time
	RevokedAt        time.Time
	UserAgent        string
	IPAddress        string
}

// IsRevoked reports whether the session was signed out.
func (s Session) IsRevoked() bool {
	return !s.RevokedAt.IsZero()
}

// Valid reports whether the session can still be used or refreshed at now.
// INVARIANT: Session fields are not mutated
func (s Session) Valid(now time.Time) bool {
	return !s.IsRevoked() && now.Before(s.RefreshExpiresAt)
}

// AccessExpired reports whether the access token has expired at now.
func (s Session) AccessExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// User is the identity behind a session as returned by the identity check.
type User struct {
	ID       string
	Login    string
	Email    string
	Role     string
	Metadata account.Metadata
}

// UserFromAccount projects an account onto the identity returned to callers.
func UserFromAccount(a account.Account) User {
	return User{
		ID:       a.ID,
		Login:    a.Login,
		Email:    a.Email,
		Role:     a.Role,
		Metadata: a.Metadata,
	}
}

// EventType tags an auth-state change.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event is pushed to subscribers whenever auth state changes.
// Session is nil for EventSignedOut.
type Event struct {
	Type      EventType
	SessionID string
	UserID    string
	Session   *Session
	At        time.Time
}
