package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/csrf"
	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"welfare/internal/adapters/http/middleware"
	"welfare/internal/application/listutil"
	"welfare/internal/domain/access"
	"welfare/internal/domain/notify"
	"welfare/internal/domain/payment"
	domainSession "welfare/internal/domain/session"
)

// mdRenderer is a goldmark instance configured for safe HTML output.
// Raw HTML in markdown input is escaped (WithUnsafe is NOT set).
var mdRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// loginSections are the markdown files shown on the login page, in order.
var loginSections = []string{"association", "committee", "expectations", "information", "terms"}

// pages holds one parsed template set per page.
type pages struct {
	byName map[string]*template.Template
	login  map[string]template.HTML
}

var pageNames = []string{"login.html", "dashboard.html", "collectors.html"}

var funcMap = template.FuncMap{
	"pounds": payment.FormatPounds,
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2 January 2006")
	},
	"query": func(page int, lp listutil.ListParams) template.URL {
		return template.URL(lp.Encode(page))
	},
}

func parsePages() (pages, error) {
	p := pages{byName: make(map[string]*template.Template), login: make(map[string]template.HTML)}
	for _, name := range pageNames {
		tpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return pages{}, fmt.Errorf("parse %s: %w", name, err)
		}
		p.byName[name] = tpl
	}
	for _, section := range loginSections {
		src, err := templateFS.ReadFile("content/" + section + ".md")
		if err != nil {
			return pages{}, fmt.Errorf("read %s: %w", section, err)
		}
		var buf bytes.Buffer
		if err := mdRenderer.Convert(src, &buf); err != nil {
			return pages{}, fmt.Errorf("render %s: %w", section, err)
		}
		p.login[section] = template.HTML(buf.String())
	}
	return p, nil
}

// pageData is what layout.html sees.
type pageData struct {
	Title     string
	User      *domainSession.User
	Access    access.Access
	Flashes   []notify.Notification
	CSRFField template.HTML
	Data      any
}

// renderPage renders a page inside the layout. Notifications raised so far
// in this request are shown alongside the ones carried over from the last.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	tpl, ok := s.pages.byName[name]
	if !ok {
		internalError(w, fmt.Errorf("unknown page %q", name))
		return
	}
	pd := pageData{Title: title, CSRFField: csrf.TemplateField(r), Data: data}
	if user, ok := middleware.CurrentUser(r.Context()); ok {
		pd.User = &user
		pd.Access, _ = middleware.AccessFromContext(r.Context())
	}
	if state := middleware.StateFromContext(r.Context()); state != nil {
		pd.Flashes = state.Pop()
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, pd); err != nil {
		internalError(w, fmt.Errorf("render %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// apiError is a JSON error body with the HTTP status it is sent with.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (e apiError) Error() string {
	return e.Code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("json_encode_failed")
	}
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	writeJSON(w, e.Status, e)
}

// internalError logs the real error and returns a generic message to the client.
// This prevents leaking internal details per OWASP A05.
func internalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("internal_error")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// wantsJSON reports whether a POST came from script rather than a form.
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sendDocument streams a generated file as a download.
func sendDocument(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
