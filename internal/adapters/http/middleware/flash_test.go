package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"welfare/internal/domain/notify"
	domainSession "welfare/internal/domain/session"
)

func testFlashStore() *FlashStore {
	return NewFlashStore([]byte(strings.Repeat("f", 32)), false)
}

// TestFlash_SurvivesRedirect verifies a notification raised on one request is shown on the next.
func TestFlash_SurvivesRedirect(t *testing.T) {
	store := testFlashStore()

	first := Flash(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotifierFromContext(r.Context()).Notify(notify.Error("Failed to log out"))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}))
	rr := httptest.NewRecorder()
	first.ServeHTTP(rr, httptest.NewRequest("POST", "/logout", nil))
	cookie := findCookie(rr, flashSessionName)
	if cookie == nil {
		t.Fatal("expected a flash cookie")
	}

	var got []notify.Notification
	second := Flash(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = StateFromContext(r.Context()).Pop()
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(cookie)
	rr = httptest.NewRecorder()
	second.ServeHTTP(rr, req)

	if len(got) != 1 || got[0].Description != "Failed to log out" || got[0].Variant != notify.VariantDestructive {
		t.Fatalf("got %+v", got)
	}

	// Popping consumed the flash; the rewritten cookie carries nothing.
	req = httptest.NewRequest("GET", "/", nil)
	req.AddCookie(findCookie(rr, flashSessionName))
	rr = httptest.NewRecorder()
	second.ServeHTTP(rr, req)
	if len(got) != 0 {
		t.Errorf("expected flashes to be consumed, got %+v", got)
	}
}

// TestFlash_TamperedCookie verifies a forged cookie is ignored.
func TestFlash_TamperedCookie(t *testing.T) {
	var got []notify.Notification
	handler := Flash(testFlashStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = StateFromContext(r.Context()).Pop()
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: flashSessionName, Value: "forged"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || got != nil {
		t.Errorf("got %d %+v", rr.Code, got)
	}
}

// TestResponseState_SetSession verifies session cookies are written with the refresh lifetime.
func TestResponseState_SetSession(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := nowUnix
	nowUnix = func() int64 { return fixed.Unix() }
	defer func() { nowUnix = orig }()

	handler := Flash(testFlashStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		StateFromContext(r.Context()).SetSession(domainSession.Session{
			AccessToken:      "a",
			RefreshToken:     "r",
			RefreshExpiresAt: fixed.Add(time.Hour),
		})
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/login", nil))

	access := findCookie(rr, AccessCookieName)
	if access == nil || access.Value != "a" || access.MaxAge != 3600 || !access.HttpOnly {
		t.Errorf("access cookie = %+v", access)
	}
	if refresh := findCookie(rr, RefreshCookieName); refresh == nil || refresh.Value != "r" {
		t.Errorf("refresh cookie = %+v", refresh)
	}
}

// TestResponseState_LateChangesDropped verifies nothing is queued once headers are out.
func TestResponseState_LateChangesDropped(t *testing.T) {
	var state *ResponseState
	handler := Flash(testFlashStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state = StateFromContext(r.Context())
		_, _ = w.Write([]byte("ok"))
		state.Clear()
		state.Notify(notify.Success("late"))
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if len(rr.Result().Cookies()) != 0 {
		t.Errorf("expected no cookies, got %v", rr.Result().Cookies())
	}
	if rr.Body.String() != "ok" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

// TestNotifierFromContext_Discard verifies a notifier is always available.
func TestNotifierFromContext_Discard(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if _, ok := NotifierFromContext(req.Context()).(notify.Discard); !ok {
		t.Error("expected Discard outside Flash")
	}
}
