package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"welfare/internal/domain/notify"
	domainSession "welfare/internal/domain/session"
)

const (
	flashSessionName            = "welfare_flash"
	stateContextKey  contextKey = "response_state"
)

// FlashStore keeps pending notifications in a signed cookie until the next page shows them.
type FlashStore struct {
	store  *sessions.CookieStore
	secure bool
}

// NewFlashStore creates a FlashStore signing cookies with key.
// PRE: len(key) >= 32
func NewFlashStore(key []byte, secure bool) *FlashStore {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &FlashStore{store: store, secure: secure}
}

// ResponseState collects the cookie changes and notifications raised while a
// request is in flight and writes them just before the response headers.
// Auth events for a session can arrive on another request's goroutine, so
// nothing touches the ResponseWriter until the owning goroutine writes.
// It implements notify.Notifier and session.Storage.
type ResponseState struct {
	http.ResponseWriter
	r      *http.Request
	flash  *FlashStore
	secure bool

	mu      sync.Mutex
	written bool
	cookies []*http.Cookie
	sess    *sessions.Session
	dirty   bool
}

// Flash returns middleware that installs a ResponseState for each request.
func Flash(store *FlashStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := newResponseState(w, r, store)
			r = r.WithContext(context.WithValue(r.Context(), stateContextKey, state))
			state.r = r
			next.ServeHTTP(state, r)
			state.flush()
		})
	}
}

func newResponseState(w http.ResponseWriter, r *http.Request, store *FlashStore) *ResponseState {
	s := &ResponseState{ResponseWriter: w, r: r, flash: store}
	if store != nil {
		s.secure = store.secure
	}
	return s
}

// StateFromContext returns the request's ResponseState, or nil outside Flash.
func StateFromContext(ctx context.Context) *ResponseState {
	s, _ := ctx.Value(stateContextKey).(*ResponseState)
	return s
}

// NotifierFromContext returns the request's notifier, discarding when there is none.
func NotifierFromContext(ctx context.Context) notify.Notifier {
	if s := StateFromContext(ctx); s != nil {
		return s
	}
	return notify.Discard{}
}

// Notify queues n for the next rendered page.
func (s *ResponseState) Notify(n notify.Notification) {
	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		log.Debug().Str("title", n.Title).Msg("notification_dropped")
		return
	}
	if sess := s.flashSession(); sess != nil {
		sess.AddFlash(string(b))
		s.dirty = true
	}
}

// Pop returns and removes the pending notifications.
func (s *ResponseState) Pop() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.flashSession()
	if sess == nil {
		return nil
	}
	flashes := sess.Flashes()
	if len(flashes) == 0 {
		return nil
	}
	s.dirty = true
	out := make([]notify.Notification, 0, len(flashes))
	for _, f := range flashes {
		raw, ok := f.(string)
		if !ok {
			continue
		}
		var n notify.Notification
		if err := json.Unmarshal([]byte(raw), &n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// flashSession loads the flash cookie once. Caller holds mu.
func (s *ResponseState) flashSession() *sessions.Session {
	if s.flash == nil {
		return nil
	}
	if s.sess == nil {
		// A tampered or stale cookie yields a fresh session alongside the error.
		sess, err := s.flash.store.Get(s.r, flashSessionName)
		if err != nil {
			log.Debug().Err(err).Msg("flash_cookie_reset")
		}
		s.sess = sess
	}
	return s.sess
}

// SetSession queues the access and refresh cookies for sess.
func (s *ResponseState) SetSession(sess domainSession.Session) {
	s.queue(
		s.cookie(AccessCookieName, sess.AccessToken, sess.RefreshExpiresAt.Unix()),
		s.cookie(RefreshCookieName, sess.RefreshToken, sess.RefreshExpiresAt.Unix()),
	)
}

// Clear queues removal of the session cookies.
func (s *ResponseState) Clear() {
	s.queue(s.cookie(AccessCookieName, "", -1), s.cookie(RefreshCookieName, "", -1))
}

func (s *ResponseState) cookie(name, value string, expiresUnix int64) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	}
	if expiresUnix < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(max(expiresUnix-nowUnix(), 0))
	}
	return c
}

var nowUnix = func() int64 { return time.Now().Unix() }

func (s *ResponseState) queue(cookies ...*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		log.Debug().Msg("cookie_change_dropped")
		return
	}
	s.cookies = append(s.cookies, cookies...)
}

// WriteHeader flushes queued state before the status line.
func (s *ResponseState) WriteHeader(code int) {
	s.flush()
	s.ResponseWriter.WriteHeader(code)
}

// Write flushes queued state before the first body byte.
func (s *ResponseState) Write(b []byte) (int, error) {
	s.flush()
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *ResponseState) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *ResponseState) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written {
		return
	}
	s.written = true
	for _, c := range s.cookies {
		http.SetCookie(s.ResponseWriter, c)
	}
	if s.dirty && s.sess != nil {
		if err := s.flash.store.Save(s.r, s.ResponseWriter, s.sess); err != nil {
			log.Error().Err(err).Msg("flash_save_failed")
		}
	}
}
