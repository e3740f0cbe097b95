package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"welfare/internal/domain/audit"
)

// ErrLogoutFailed is surfaced to the user as "Failed to log out".
var ErrLogoutFailed = errors.New("failed to log out")

// SignOuter revokes a session; revoking twice must be harmless.
type SignOuter interface {
	SignOut(ctx context.Context, sessionID string) error
}

// CacheInvalidator marks every cached query stale.
type CacheInvalidator interface {
	InvalidateAll() int
}

// LogoutInput carries input for the logout orchestrator.
type LogoutInput struct {
	SessionID string
	UserID    string
	Login     string
	Role      string
	IPAddress string
	// OnDone runs after a successful sign-out, e.g. to clear cookies and redirect.
	OnDone func()
}

// LogoutDeps holds dependencies for Logout.
type LogoutDeps struct {
	Cache      CacheInvalidator
	Auth       SignOuter
	AuditStore AuditStore // optional
	// Flight collapses concurrent logouts of the same session.
	Flight *singleflight.Group
	Now    func() time.Time
}

// ExecuteLogout invalidates cached queries, signs the session out, then runs OnDone.
// PRE: deps.Flight is shared by every caller
// POST: At most one sign-out side effect per session; repeats are silent no-ops
// INVARIANT: Cache invalidation happens before sign-out
func ExecuteLogout(ctx context.Context, input LogoutInput, deps LogoutDeps) error {
	if deps.Cache != nil {
		deps.Cache.InvalidateAll()
	}

	if input.SessionID != "" {
		_, err, shared := deps.Flight.Do(input.SessionID, func() (any, error) {
			if err := deps.Auth.SignOut(context.WithoutCancel(ctx), input.SessionID); err != nil {
				return nil, err
			}
			now := time.Now()
			if deps.Now != nil {
				now = deps.Now()
			}
			recordAudit(ctx, deps.AuditStore, audit.NewEvent(input.UserID, input.Login, input.Role, audit.CategoryAuth, audit.ActionLogout, now).
				WithIP(input.IPAddress))
			return nil, nil
		})
		if err != nil {
			log.Error().Err(err).Str("session_id", input.SessionID).Msg("logout_failed")
			return fmt.Errorf("%w: %v", ErrLogoutFailed, err)
		}
		if shared {
			log.Debug().Str("session_id", input.SessionID).Msg("logout_collapsed")
		}
	}

	if input.OnDone != nil {
		input.OnDone()
	}
	return nil
}
