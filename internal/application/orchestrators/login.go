package orchestrators

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"welfare/internal/application/auth"
	"welfare/internal/domain/account"
	"welfare/internal/domain/audit"
	"welfare/internal/domain/session"
)

// AccountStoreForLogin defines the store interface needed by Login.
type AccountStoreForLogin interface {
	GetByLogin(ctx context.Context, login string) (account.Account, error)
	Save(ctx context.Context, a account.Account) error
}

// SessionOpener opens a session once credentials check out.
type SessionOpener interface {
	SignIn(ctx context.Context, acct account.Account, client auth.ClientInfo) (session.Session, error)
}

// AuditStore records audit events.
type AuditStore interface {
	Save(ctx context.Context, e audit.Event) error
}

// LoginInput carries input for the login orchestrator.
type LoginInput struct {
	Login     string `validate:"required,max=32"`
	Password  string `validate:"required,max=128"`
	UserAgent string
	IPAddress string
}

// LoginResult carries the result of a successful login.
type LoginResult struct {
	Session session.Session
	Account account.Account
}

// LoginDeps holds dependencies for Login.
type LoginDeps struct {
	AccountStore AccountStoreForLogin
	Sessions     SessionOpener
	AuditStore   AuditStore // optional
	Now          func() time.Time
}

var (
	ErrInvalidCredentials = errors.New("invalid member number or password")
	ErrAccountLocked      = errors.New("account is locked due to too many failed attempts")
	ErrAccountDisabled    = errors.New("account is disabled")
)

// ExecuteLogin validates credentials and opens a session.
// PRE: Login and password provided
// POST: Returns the new session on success, records failed login on failure
// INVARIANT: Locked and disabled accounts never receive a session
func ExecuteLogin(ctx context.Context, input LoginInput, deps LoginDeps) (LoginResult, error) {
	if input.Login == "" || input.Password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	now := time.Now()
	if deps.Now != nil {
		now = deps.Now()
	}

	acct, err := deps.AccountStore.GetByLogin(ctx, input.Login)
	if err != nil {
		log.Info().Str("event", "login_failed").Str("login", input.Login).Str("reason", "not_found").Msg("auth_event")
		return LoginResult{}, ErrInvalidCredentials
	}

	if acct.IsDisabled() {
		log.Info().Str("event", "login_blocked").Str("login", input.Login).Str("reason", "disabled").Msg("auth_event")
		return LoginResult{}, ErrAccountDisabled
	}

	if acct.IsLocked(now) {
		log.Info().Str("event", "login_blocked").Str("login", input.Login).Str("reason", "locked").Msg("auth_event")
		return LoginResult{}, ErrAccountLocked
	}

	if err := acct.CheckPassword(input.Password); err != nil {
		acct.RecordFailedLogin(now)
		if err := deps.AccountStore.Save(ctx, acct); err != nil {
			log.Error().Err(err).Str("account_id", acct.ID).Msg("login_save_failed")
		}
		log.Info().Str("event", "login_failed").Str("login", input.Login).Str("reason", "wrong_password").Int("failed_logins", acct.FailedLogins).Msg("auth_event")
		recordAudit(ctx, deps.AuditStore, audit.NewEvent(acct.ID, acct.Login, acct.Role, audit.CategoryAuth, audit.ActionLoginFailed, now).
			WithSeverity(audit.SeverityWarning).
			WithIP(input.IPAddress))
		return LoginResult{}, ErrInvalidCredentials
	}

	if acct.FailedLogins > 0 || !acct.LockedUntil.IsZero() {
		acct.ResetFailedLogins()
		if err := deps.AccountStore.Save(ctx, acct); err != nil {
			log.Error().Err(err).Str("account_id", acct.ID).Msg("login_save_failed")
		}
	}

	sess, err := deps.Sessions.SignIn(ctx, acct, auth.ClientInfo{UserAgent: input.UserAgent, IPAddress: input.IPAddress})
	if err != nil {
		return LoginResult{}, err
	}

	log.Info().Str("event", "login_success").Str("login", acct.Login).Str("role", acct.Role).Msg("auth_event")
	recordAudit(ctx, deps.AuditStore, audit.NewEvent(acct.ID, acct.Login, acct.Role, audit.CategoryAuth, audit.ActionLogin, now).
		WithIP(input.IPAddress))

	return LoginResult{Session: sess, Account: acct}, nil
}

// recordAudit saves e when a store is configured. Failures are logged only.
func recordAudit(ctx context.Context, store AuditStore, e audit.Event) {
	if store == nil {
		return
	}
	if err := store.Save(context.WithoutCancel(ctx), e); err != nil {
		log.Error().Err(err).Str("action", string(e.Action)).Msg("audit_save_failed")
	}
}
