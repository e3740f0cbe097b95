package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"welfare/internal/application/auth"
	"welfare/internal/application/session"
	"welfare/internal/domain/access"
	"welfare/internal/domain/notify"
	domainSession "welfare/internal/domain/session"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const (
	trackerContextKey contextKey = "tracker"
	accessContextKey  contextKey = "access"
)

// Cookie names. The access and refresh cookies are the browser's copy of the session.
const (
	AccessCookieName  = "welfare_access"
	RefreshCookieName = "welfare_refresh"
)

// AuthBackend is what the auth middleware needs from the auth service.
type AuthBackend interface {
	session.AuthClient
	Refresh(ctx context.Context, refreshToken string) (domainSession.Session, error)
	ValidateAccess(accessToken string) (auth.Claims, error)
}

// AuthConfig holds dependencies for Auth.
type AuthConfig struct {
	Backend AuthBackend
	Cache   session.QueryCache
	// Quiet reports requests whose dead session is cleaned up without telling
	// the user, e.g. a repeated logout. Nil means every request notifies.
	Quiet func(r *http.Request) bool
}

// Auth returns middleware that resolves the session tracker for each request
// and stores it, with the derived Access, in the request context.
// It does NOT block unauthenticated requests; use RequireAuth or RequireRole for that.
// An expired access token is refreshed from the refresh cookie first.
// While the session is live the request context is cancelled when the tracker signs out.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := StateFromContext(r.Context())
			if state == nil {
				state = newResponseState(w, r, nil)
				w = state
				defer state.flush()
			}
			token := refreshIfExpired(r, state, cfg.Backend)

			var notifier notify.Notifier = state
			if cfg.Quiet != nil && cfg.Quiet(r) {
				notifier = notify.Discard{}
			}
			tracker := session.NewTracker(session.Deps{
				Auth:     cfg.Backend,
				Cache:    cfg.Cache,
				Storage:  state,
				Notifier: notifier,
			})
			defer tracker.Close()
			tracker.Start(r.Context(), token)

			ctx := context.WithValue(r.Context(), trackerContextKey, tracker)
			if user, ok := tracker.User(); ok {
				acc, err := access.Resolve(user.Role, user.Metadata)
				if err != nil {
					log.Error().Err(err).Str("user_id", user.ID).Str("role", user.Role).Msg("role_resolve_failed")
					state.Notify(notify.Error("Error loading roles"))
				} else {
					ctx = context.WithValue(ctx, accessContextKey, acc)
				}

				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				defer cancel()
				go func() {
					select {
					case <-tracker.Done():
						cancel()
					case <-ctx.Done():
					}
				}()
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// refreshIfExpired returns the access token to use for r. When the access
// cookie is missing or expired and a refresh cookie exists, the session is
// refreshed and new cookies are written.
func refreshIfExpired(r *http.Request, jar *ResponseState, backend AuthBackend) string {
	token := cookieValue(r, AccessCookieName)
	if token != "" {
		if _, err := backend.ValidateAccess(token); !errors.Is(err, domainSession.ErrJWTExpired) {
			return token
		}
	}
	refresh := cookieValue(r, RefreshCookieName)
	if refresh == "" {
		return token
	}
	sess, err := backend.Refresh(r.Context(), refresh)
	if err != nil {
		log.Info().Err(err).Msg("token_refresh_failed")
		// The tracker turns the dead token into a clean sign-out.
		if token == "" {
			jar.Clear()
		}
		return token
	}
	jar.SetSession(sess)
	return sess.AccessToken
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// RequireAuth returns middleware that blocks requests without a session.
// Pages redirect to /login (unless already there); JSON API requests get 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !waitReady(r) {
			return
		}
		if _, ok := CurrentSession(r.Context()); !ok {
			deny(w, r, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole returns middleware that blocks requests from users without one of the specified roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !waitReady(r) {
				return
			}
			if _, ok := CurrentSession(r.Context()); !ok {
				deny(w, r, http.StatusUnauthorized)
				return
			}
			acc, ok := AccessFromContext(r.Context())
			if !ok || !roleSet[acc.Role] {
				deny(w, r, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// waitReady blocks until the tracker has a definitive answer.
func waitReady(r *http.Request) bool {
	t, ok := TrackerFromContext(r.Context())
	if !ok {
		return true
	}
	select {
	case <-t.Ready():
		return true
	case <-r.Context().Done():
		return false
	}
}

func deny(w http.ResponseWriter, r *http.Request, status int) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"` + strings.ToLower(http.StatusText(status)) + `"}`))
		return
	}
	if status == http.StatusForbidden {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if r.URL.Path == "/login" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// TrackerFromContext returns the request's session tracker.
func TrackerFromContext(ctx context.Context) (*session.Tracker, bool) {
	t, ok := ctx.Value(trackerContextKey).(*session.Tracker)
	return t, ok
}

// CurrentSession returns the live session of the request, if any.
func CurrentSession(ctx context.Context) (domainSession.Session, bool) {
	t, ok := TrackerFromContext(ctx)
	if !ok {
		return domainSession.Session{}, false
	}
	return t.Session()
}

// CurrentUser returns the identity behind the request's session, if any.
func CurrentUser(ctx context.Context) (domainSession.User, bool) {
	t, ok := TrackerFromContext(ctx)
	if !ok {
		return domainSession.User{}, false
	}
	return t.User()
}

// AccessFromContext returns the authorization view of the request's user.
func AccessFromContext(ctx context.Context) (access.Access, bool) {
	acc, ok := ctx.Value(accessContextKey).(access.Access)
	return acc, ok
}

// IsRole checks if the current user has one of the given roles.
func IsRole(ctx context.Context, roles ...string) bool {
	acc, ok := AccessFromContext(ctx)
	if !ok {
		return false
	}
	for _, r := range roles {
		if acc.Role == r {
			return true
		}
	}
	return false
}

// ContextWithTracker returns a context carrying t and acc.
// Intended for use in tests.
func ContextWithTracker(ctx context.Context, t *session.Tracker, acc *access.Access) context.Context {
	ctx = context.WithValue(ctx, trackerContextKey, t)
	if acc != nil {
		ctx = context.WithValue(ctx, accessContextKey, *acc)
	}
	return ctx
}
