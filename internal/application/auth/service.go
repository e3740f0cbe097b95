// Package auth is the in-process auth backend: it opens, refreshes and revokes
// sessions, answers identity checks and publishes auth-state changes.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"welfare/internal/adapters/http/perf"
	"welfare/internal/adapters/storage"
	"welfare/internal/domain/account"
	"welfare/internal/domain/session"
)

// AccountStore is the account persistence the service needs.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
	Save(ctx context.Context, a account.Account) error
}

// SessionStore is the session persistence the service needs.
type SessionStore interface {
	Create(ctx context.Context, s session.Session) error
	GetByID(ctx context.Context, id string) (session.Session, error)
	GetByRefreshToken(ctx context.Context, token string) (session.Session, error)
	Rotate(ctx context.Context, s session.Session) error
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// ClientInfo describes the browser opening a session.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// Deps holds dependencies for Service.
type Deps struct {
	Accounts   AccountStore
	Sessions   SessionStore
	Tokens     *Tokens
	Broker     *Broker
	Metrics    *perf.Metrics
	RefreshTTL time.Duration
	Now        func() time.Time
}

// RefreshReuseWindow is how long a rotated refresh token keeps answering with
// its successor, so overlapping requests from one browser agree on one session.
const RefreshReuseWindow = 30 * time.Second

// rotatedTokens bounds how many rotated refresh tokens are remembered.
const rotatedTokens = 4096

type rotation struct {
	sess session.Session
	at   time.Time
}

// Service issues and tracks sessions.
type Service struct {
	accounts   AccountStore
	sessions   SessionStore
	tokens     *Tokens
	broker     *Broker
	metrics    *perf.Metrics
	refreshTTL time.Duration
	now        func() time.Time

	refreshes singleflight.Group
	rotated   *lru.Cache // old refresh token -> rotation
}

// NewService creates the auth service.
// PRE: Accounts, Sessions and Tokens are set
// POST: Broker and Now default when nil
func NewService(deps Deps) *Service {
	s := &Service{
		accounts:   deps.Accounts,
		sessions:   deps.Sessions,
		tokens:     deps.Tokens,
		broker:     deps.Broker,
		metrics:    deps.Metrics,
		refreshTTL: deps.RefreshTTL,
		now:        deps.Now,
	}
	if s.broker == nil {
		s.broker = NewBroker()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = 7 * 24 * time.Hour
	}
	s.rotated, _ = lru.New(rotatedTokens)
	return s
}

// Subscribe registers fn for auth-state changes and returns its unsubscribe function.
func (s *Service) Subscribe(fn func(session.Event)) func() {
	return s.broker.Subscribe(fn)
}

// SignIn opens a session for an account whose credentials were already checked.
// PRE: acct is active and not locked
// POST: Session persisted; SIGNED_IN published
func (s *Service) SignIn(ctx context.Context, acct account.Account, client ClientInfo) (session.Session, error) {
	now := s.now().UTC()
	refresh, err := newRefreshToken()
	if err != nil {
		return session.Session{}, err
	}
	sess := session.Session{
		ID:               uuid.NewString(),
		UserID:           acct.ID,
		RefreshToken:     refresh,
		RefreshExpiresAt: now.Add(s.refreshTTL),
		CreatedAt:        now,
		UserAgent:        client.UserAgent,
		IPAddress:        client.IPAddress,
	}
	sess.AccessToken, sess.ExpiresAt, err = s.tokens.Issue(sess, acct.Role, now)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.publish(session.EventSignedIn, sess.ID, sess.UserID, &sess)
	return sess, nil
}

// GetSession returns the live session behind an access token.
// An empty token is "no session" and returns nil without error.
// POST: Returns nil,nil for no token; session.ErrJWTExpired or session.ErrSessionNotFound when dead
func (s *Service) GetSession(ctx context.Context, accessToken string) (*session.Session, error) {
	if accessToken == "" {
		return nil, nil
	}
	claims, err := s.tokens.Parse(accessToken, s.now())
	if err != nil {
		return nil, err
	}
	sess, err := s.liveSession(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	sess.AccessToken = accessToken
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return &sess, nil
}

// GetUser re-validates an access token against the stored session and account.
// PRE: accessToken is non-empty
// POST: Returns the identity or an invalid-session error
func (s *Service) GetUser(ctx context.Context, accessToken string) (session.User, error) {
	claims, err := s.tokens.Parse(accessToken, s.now())
	if err != nil {
		return session.User{}, err
	}
	sess, err := s.liveSession(ctx, claims.SessionID)
	if err != nil {
		return session.User{}, err
	}
	acct, err := s.accounts.GetByID(ctx, sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return session.User{}, fmt.Errorf("user %s: %w", sess.UserID, session.ErrSessionNotFound)
	}
	if err != nil {
		return session.User{}, fmt.Errorf("load account: %w", err)
	}
	if acct.IsDisabled() {
		return session.User{}, fmt.Errorf("user %s disabled: %w", acct.ID, session.ErrSessionNotFound)
	}
	return session.UserFromAccount(acct), nil
}

// Refresh exchanges a refresh token for a new credential pair. Concurrent
// calls with one token share a single rotation, and for RefreshReuseWindow
// afterwards the old token answers with the same successor. Past that the old
// token stops working.
// POST: Session rotated at most once per token; TOKEN_REFRESHED published once
func (s *Service) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	if refreshToken == "" {
		return session.Session{}, session.ErrRefreshTokenNotFound
	}
	v, err, _ := s.refreshes.Do(refreshToken, func() (any, error) {
		if sess, ok, err := s.reuse(ctx, refreshToken); ok {
			return sess, err
		}
		sess, err := s.rotate(context.WithoutCancel(ctx), refreshToken)
		if err != nil {
			return session.Session{}, err
		}
		s.rotated.Add(refreshToken, rotation{sess: sess, at: s.now()})
		return sess, nil
	})
	if err != nil {
		return session.Session{}, err
	}
	return v.(session.Session), nil
}

// reuse answers a recently rotated token with its successor while the session is live.
func (s *Service) reuse(ctx context.Context, refreshToken string) (session.Session, bool, error) {
	v, ok := s.rotated.Get(refreshToken)
	if !ok {
		return session.Session{}, false, nil
	}
	rot := v.(rotation)
	if s.now().Sub(rot.at) > RefreshReuseWindow {
		s.rotated.Remove(refreshToken)
		return session.Session{}, false, nil
	}
	if _, err := s.liveSession(ctx, rot.sess.ID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return session.Session{}, true, session.ErrInvalidRefreshToken
		}
		return session.Session{}, true, err
	}
	return rot.sess, true, nil
}

func (s *Service) rotate(ctx context.Context, refreshToken string) (session.Session, error) {
	sess, err := s.sessions.GetByRefreshToken(ctx, refreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		return session.Session{}, session.ErrRefreshTokenNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	now := s.now().UTC()
	if !sess.Valid(now) {
		return session.Session{}, session.ErrInvalidRefreshToken
	}
	acct, err := s.accounts.GetByID(ctx, sess.UserID)
	if err != nil || acct.IsDisabled() {
		return session.Session{}, session.ErrInvalidRefreshToken
	}

	if sess.RefreshToken, err = newRefreshToken(); err != nil {
		return session.Session{}, err
	}
	sess.RefreshedAt = now
	sess.RefreshExpiresAt = now.Add(s.refreshTTL)
	if sess.AccessToken, sess.ExpiresAt, err = s.tokens.Issue(sess, acct.Role, now); err != nil {
		return session.Session{}, err
	}
	if err := s.sessions.Rotate(ctx, sess); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return session.Session{}, session.ErrInvalidRefreshToken
		}
		return session.Session{}, fmt.Errorf("rotate session: %w", err)
	}
	s.publish(session.EventTokenRefreshed, sess.ID, sess.UserID, &sess)
	return sess, nil
}

// SignOut revokes a session. Signing out an unknown or already revoked
// session is a no-op.
// POST: Session revoked; SIGNED_OUT published only by the call that revoked it
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	revoked, err := s.sessions.Revoke(ctx, sessionID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if revoked {
		s.publish(session.EventSignedOut, sess.ID, sess.UserID, nil)
	}
	return nil
}

// UpdateMetadata replaces an account's metadata and notifies its sessions.
// POST: Account saved; USER_UPDATED published
func (s *Service) UpdateMetadata(ctx context.Context, userID string, md account.Metadata) error {
	acct, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	acct.Metadata = md
	if err := acct.Validate(); err != nil {
		return err
	}
	if err := s.accounts.Save(ctx, acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	s.publish(session.EventUserUpdated, "", userID, nil)
	return nil
}

// ValidateAccess checks an access token's signature and expiry without a store lookup.
func (s *Service) ValidateAccess(accessToken string) (Claims, error) {
	return s.tokens.Parse(accessToken, s.now())
}

// PurgeExpired deletes sessions that can no longer be refreshed.
// POST: Returns the number of sessions removed
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	return s.sessions.PurgeExpired(ctx, s.now().UTC())
}

func (s *Service) liveSession(ctx context.Context, id string) (session.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return session.Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", session.ErrFetchFailed, err)
	}
	if !sess.Valid(s.now()) {
		return session.Session{}, session.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) publish(t session.EventType, sessionID, userID string, sess *session.Session) {
	log.Info().Str("event", string(t)).Str("session_id", sessionID).Str("user_id", userID).Msg("auth_event")
	s.metrics.AuthEvent(string(t))
	s.broker.Publish(session.Event{
		Type:      t,
		SessionID: sessionID,
		UserID:    userID,
		Session:   sess,
		At:        s.now(),
	})
}

func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
