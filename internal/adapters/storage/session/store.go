package session

import (
	"context"
	"time"

	domain "welfare/internal/domain/session"
)

// Store persists auth sessions.
type Store interface {
	Create(ctx context.Context, s domain.Session) error
	GetByID(ctx context.Context, id string) (domain.Session, error)
	GetByRefreshToken(ctx context.Context, token string) (domain.Session, error)
	// Rotate swaps the refresh token and moves both expiries forward.
	// Returns storage.ErrNotFound when the session is unknown or already revoked.
	Rotate(ctx context.Context, s domain.Session) error
	// Revoke marks the session signed out. Revoking twice is a no-op.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
	// PurgeExpired deletes sessions whose refresh window closed or that were revoked before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
	CountActive(ctx context.Context, now time.Time) (int, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Session, error)
}
