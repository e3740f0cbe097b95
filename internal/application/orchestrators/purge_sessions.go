package orchestrators

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"welfare/internal/domain/audit"
)

// SessionPurger deletes sessions that can no longer be used.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// PurgeSessionsDeps holds dependencies for PurgeSessions.
type PurgeSessionsDeps struct {
	Sessions   SessionPurger
	AuditStore AuditStore // optional
	Now        func() time.Time
}

// ExecutePurgeSessions removes expired and revoked sessions.
// Runs from the scheduler; errors are returned for the caller to log.
// POST: Returns the number of sessions removed
func ExecutePurgeSessions(ctx context.Context, deps PurgeSessionsDeps) (int, error) {
	n, err := deps.Sessions.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}
	log.Info().Int("removed", n).Msg("sessions_purged")
	recordAudit(ctx, deps.AuditStore, audit.NewEvent("", "", "", audit.CategorySystem, audit.ActionPurge, now).
		WithResource("auth_session", "").
		WithDescription(pluralSessions(n)))
	return n, nil
}

func pluralSessions(n int) string {
	if n == 1 {
		return "1 session removed"
	}
	return fmt.Sprintf("%d sessions removed", n)
}
