// Package session tracks the auth session of one browser request: it loads
// and re-validates the session, follows auth-state events and turns dead
// sessions into a clean sign-out.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"welfare/internal/application/querycache"
	"welfare/internal/domain/notify"
	domain "welfare/internal/domain/session"
)

// AuthClient is the slice of the auth backend the tracker talks to.
type AuthClient interface {
	GetSession(ctx context.Context, accessToken string) (*domain.Session, error)
	GetUser(ctx context.Context, accessToken string) (domain.User, error)
	SignOut(ctx context.Context, sessionID string) error
	Subscribe(fn func(domain.Event)) func()
}

// QueryCache is the cache whose user entries follow the session.
type QueryCache interface {
	Invalidate(prefix string) int
	Reset(prefix string) int
}

// Storage is the client-side state cleared on sign-out.
type Storage interface {
	Clear()
}

// Deps holds dependencies for a Tracker. Cache, Storage and Notifier may be nil.
type Deps struct {
	Auth     AuthClient
	Cache    QueryCache
	Storage  Storage
	Notifier notify.Notifier
}

// Tracker follows one session. Loading is true until the first definitive
// session-or-none answer and false afterwards; Ready is closed at that moment.
type Tracker struct {
	deps Deps

	mu          sync.Mutex
	session     *domain.Session
	user        domain.User
	sessionID   string
	userID      string
	loading     bool
	alive       bool
	signedOut   bool
	unsubscribe func()

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// NewTracker creates a tracker and subscribes it to auth events.
// PRE: deps.Auth is non-nil
// POST: Loading() is true until Start answers
func NewTracker(deps Deps) *Tracker {
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	t := &Tracker{
		deps:    deps,
		loading: true,
		alive:   true,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	t.unsubscribe = deps.Auth.Subscribe(t.onEvent)
	return t
}

// Start loads the session behind accessToken and re-validates its user.
// An empty token resolves to "no session".
// POST: Ready() is closed unless the tracker was closed first
func (t *Tracker) Start(ctx context.Context, accessToken string) {
	if accessToken == "" {
		t.resolve()
		return
	}

	sess, err := t.deps.Auth.GetSession(ctx, accessToken)
	if err != nil {
		t.handleError(ctx, err)
		return
	}
	if sess == nil {
		t.resolve()
		return
	}

	t.mu.Lock()
	t.sessionID = sess.ID
	t.userID = sess.UserID
	t.mu.Unlock()

	user, err := t.deps.Auth.GetUser(ctx, accessToken)
	if err != nil {
		t.handleError(ctx, err)
		return
	}

	t.mu.Lock()
	if !t.alive || t.signedOut {
		t.mu.Unlock()
		t.resolve()
		return
	}
	t.session = sess
	t.user = user
	t.mu.Unlock()
	t.resolve()
}

// Session returns the current session, if any.
func (t *Tracker) Session() (domain.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return domain.Session{}, false
	}
	return *t.session, true
}

// User returns the identity confirmed for the current session.
func (t *Tracker) User() (domain.User, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return domain.User{}, false
	}
	return t.user, true
}

// Loading reports whether the first answer is still pending.
func (t *Tracker) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// Ready is closed once the first answer is known.
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}

// Done is closed when the tracked session is signed out.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Close unsubscribes from auth events. Late events and late results are
// discarded afterwards.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.alive = false
		unsubscribe := t.unsubscribe
		t.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

func (t *Tracker) onEvent(ev domain.Event) {
	t.mu.Lock()
	if !t.alive || !t.follows(ev) {
		t.mu.Unlock()
		return
	}
	userID := t.userID
	t.mu.Unlock()

	log.Debug().Str("event", string(ev.Type)).Str("session_id", ev.SessionID).Msg("auth_state_changed")

	switch ev.Type {
	case domain.EventSignedOut:
		t.signOut(context.Background())
	case domain.EventSignedIn, domain.EventTokenRefreshed:
		t.adopt(ev.Session)
		if t.deps.Cache != nil {
			t.deps.Cache.Invalidate(querycache.UserPrefix(userID))
		}
	default:
		t.adopt(ev.Session)
	}
}

// follows reports whether ev concerns the tracked session. Caller holds mu.
func (t *Tracker) follows(ev domain.Event) bool {
	if t.sessionID == "" {
		return false
	}
	if ev.SessionID != "" {
		return ev.SessionID == t.sessionID
	}
	return ev.UserID == t.userID
}

func (t *Tracker) adopt(sess *domain.Session) {
	if sess == nil {
		return
	}
	t.mu.Lock()
	if t.alive && !t.signedOut {
		cp := *sess
		t.session = &cp
	}
	t.mu.Unlock()
}

func (t *Tracker) handleError(ctx context.Context, err error) {
	if domain.IsInvalidSession(err) {
		log.Info().Err(err).Msg("session_invalid")
		t.signOut(ctx)
		return
	}
	log.Error().Err(err).Msg("session_check_failed")
	t.resolve()
}

// signOut clears every trace of the session, then publishes the answer.
// It runs at most once per tracker.
func (t *Tracker) signOut(ctx context.Context) {
	t.mu.Lock()
	if t.signedOut || !t.alive {
		t.mu.Unlock()
		return
	}
	t.signedOut = true
	t.session = nil
	sessionID, userID := t.sessionID, t.userID
	t.mu.Unlock()

	if t.deps.Cache != nil && userID != "" {
		t.deps.Cache.Reset(querycache.UserPrefix(userID))
	}
	if t.deps.Storage != nil {
		t.deps.Storage.Clear()
	}
	if err := t.deps.Auth.SignOut(context.WithoutCancel(ctx), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("sign_out_failed")
	}
	t.deps.Notifier.Notify(notify.Notification{
		Title:       "Session expired",
		Description: "Please sign in again",
		Variant:     notify.VariantDestructive,
	})

	t.resolve()
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Tracker) resolve() {
	t.readyOnce.Do(func() {
		t.mu.Lock()
		t.loading = false
		t.mu.Unlock()
		close(t.ready)
	})
}
