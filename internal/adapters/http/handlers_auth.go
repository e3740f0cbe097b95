package web

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/http/middleware"
	"welfare/internal/application/orchestrators"
	"welfare/internal/domain/notify"
	domainSession "welfare/internal/domain/session"
)

type loginView struct {
	MemberNumber string
	Error        string
	Sections     map[string]template.HTML
}

func (s *Server) loginView(memberNumber, errMsg string) loginView {
	return loginView{MemberNumber: memberNumber, Error: errMsg, Sections: s.pages.login}
}

// handleLoginPage handles GET /login
// An existing session goes straight to the dashboard.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.CurrentSession(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderPage(w, r, http.StatusOK, "login.html", "Sign in", s.loginView("", ""))
}

// handleLoginSubmit handles POST /login
// PRE: form carries member_number and password
// POST: Session cookies set and redirect to / on success; form re-rendered otherwise
func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}

	input := orchestrators.LoginInput{
		Login:     strings.TrimSpace(r.FormValue("member_number")),
		Password:  r.FormValue("password"),
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
	if err := s.validate.Struct(input); err != nil {
		s.renderPage(w, r, http.StatusBadRequest, "login.html", "Sign in",
			s.loginView(input.Login, "Enter your member number and password"))
		return
	}

	result, err := orchestrators.ExecuteLogin(r.Context(), input, orchestrators.LoginDeps{
		AccountStore: s.stores.AccountStore,
		Sessions:     s.auth,
		AuditStore:   s.stores.AuditStore,
		Now:          s.now,
	})
	switch {
	case errors.Is(err, orchestrators.ErrInvalidCredentials),
		errors.Is(err, orchestrators.ErrAccountLocked),
		errors.Is(err, orchestrators.ErrAccountDisabled):
		s.renderPage(w, r, http.StatusUnauthorized, "login.html", "Sign in", s.loginView(input.Login, capitalize(err.Error())))
		return
	case err != nil:
		internalError(w, err)
		return
	}

	middleware.StateFromContext(r.Context()).SetSession(result.Session)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout handles POST /logout
// The request's own tracker is closed first so the sign-out it triggers
// is not reported back as an expired session. Without a live session, e.g. a
// double submit, cookies are cleared and the user lands on /login silently.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if t, ok := middleware.TrackerFromContext(ctx); ok {
		t.Close()
	}
	sess, _ := middleware.CurrentSession(ctx)
	user, _ := middleware.CurrentUser(ctx)
	state := middleware.StateFromContext(ctx)

	err := orchestrators.ExecuteLogout(ctx, orchestrators.LogoutInput{
		SessionID: sess.ID,
		UserID:    user.ID,
		Login:     user.Login,
		Role:      user.Role,
		IPAddress: clientIP(r),
		OnDone: func() {
			state.Clear()
			if wantsJSON(r) {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
		},
	}, orchestrators.LogoutDeps{
		Cache:      s.cache,
		Auth:       s.auth,
		AuditStore: s.stores.AuditStore,
		Flight:     &s.logouts,
		Now:        s.now,
	})
	if err != nil {
		state.Notify(notify.Error("Failed to log out"))
		if wantsJSON(r) {
			writeAPIError(w, apiError{Status: http.StatusBadGateway, Code: "logout_failed", Message: "Failed to log out"})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// handleChangePassword handles POST /account/password
// PRE: form carries current_password, new_password and confirm_password
// POST: Redirects to / with a notification describing the outcome
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	state := middleware.StateFromContext(ctx)
	user, _ := middleware.CurrentUser(ctx)

	input := orchestrators.ChangePasswordInput{
		AccountID:       user.ID,
		CurrentPassword: r.FormValue("current_password"),
		NewPassword:     r.FormValue("new_password"),
		IPAddress:       clientIP(r),
	}
	switch {
	case s.validate.Struct(input) != nil:
		state.Notify(notify.Error("New password must be at least 8 characters"))
	case input.NewPassword != r.FormValue("confirm_password"):
		state.Notify(notify.Error("New passwords do not match"))
	default:
		err := orchestrators.ExecuteChangePassword(ctx, input, orchestrators.ChangePasswordDeps{
			AccountStore: s.stores.AccountStore,
			AuditStore:   s.stores.AuditStore,
			Now:          s.now,
		})
		switch {
		case errors.Is(err, orchestrators.ErrCurrentPasswordWrong), errors.Is(err, orchestrators.ErrNewPasswordSame):
			state.Notify(notify.Error(capitalize(err.Error())))
		case err != nil:
			log.Error().Err(err).Str("user_id", user.ID).Msg("password_change_failed")
			state.Notify(notify.Error("Failed to update password"))
		default:
			state.Notify(notify.Success("Password updated"))
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type sessionUserJSON struct {
	ID            string `json:"id"`
	Login         string `json:"login"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role"`
	MemberNumber  string `json:"member_number,omitempty"`
	CollectorName string `json:"collector_name,omitempty"`
}

type sessionJSON struct {
	Authenticated bool             `json:"authenticated"`
	Loading       bool             `json:"loading"`
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	User          *sessionUserJSON `json:"user,omitempty"`
}

// handleSessionStatus handles GET /api/session
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := sessionJSON{}
	if t, ok := middleware.TrackerFromContext(ctx); ok {
		out.Loading = t.Loading()
	}
	if sess, ok := middleware.CurrentSession(ctx); ok {
		out.Authenticated = true
		if !sess.ExpiresAt.IsZero() {
			exp := sess.ExpiresAt
			out.ExpiresAt = &exp
		}
	}
	if user, ok := middleware.CurrentUser(ctx); ok {
		out.User = toSessionUserJSON(user)
	}
	writeJSON(w, http.StatusOK, out)
}

func toSessionUserJSON(u domainSession.User) *sessionUserJSON {
	return &sessionUserJSON{
		ID:            u.ID,
		Login:         u.Login,
		Email:         u.Email,
		Role:          u.Role,
		MemberNumber:  u.Metadata.MemberNumber,
		CollectorName: u.Metadata.CollectorName,
	}
}

// handleRefresh handles POST /api/auth/refresh
// POST: Rotated cookies on success; cookies cleared and 401 when the refresh token is dead
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	state := middleware.StateFromContext(r.Context())
	c, err := r.Cookie(middleware.RefreshCookieName)
	if err != nil || c.Value == "" {
		writeAPIError(w, apiError{Status: http.StatusUnauthorized, Code: "refresh_token_not_found"})
		return
	}
	sess, err := s.auth.Refresh(r.Context(), c.Value)
	if err != nil {
		if domainSession.IsInvalidSession(err) {
			log.Info().Err(err).Msg("token_refresh_rejected")
			state.Clear()
			writeAPIError(w, apiError{Status: http.StatusUnauthorized, Code: "invalid_refresh_token"})
			return
		}
		internalError(w, err)
		return
	}
	state.SetSession(sess)
	writeJSON(w, http.StatusOK, map[string]time.Time{"expires_at": sess.ExpiresAt})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
