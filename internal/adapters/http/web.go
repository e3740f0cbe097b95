package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"welfare/internal/adapters/http/middleware"
	"welfare/internal/adapters/http/perf"
	accountStore "welfare/internal/adapters/storage/account"
	auditStore "welfare/internal/adapters/storage/audit"
	memberStore "welfare/internal/adapters/storage/member"
	paymentStore "welfare/internal/adapters/storage/payment"
	"welfare/internal/application/auth"
	"welfare/internal/application/querycache"
	"welfare/internal/application/reports"
	"welfare/internal/domain/account"
)

//go:embed templates/*.html content/*.md
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Pinger reports database reachability for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Stores holds the storage dependencies of the handlers.
type Stores struct {
	AccountStore accountStore.Store
	MemberStore  memberStore.Store
	PaymentStore paymentStore.Store
	AuditStore   auditStore.Store
}

// Options carries the HTTP settings taken from config.
type Options struct {
	CSRFKey            []byte
	CookieKey          []byte
	Secure             bool
	TrustedOrigins     []string
	RateLimitPerSecond int
	SlowRequestMs      int
	YearlyFeePence     int
}

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Stores  Stores
	Auth    *auth.Service
	Cache   *querycache.Cache
	Reports *reports.Generator
	Perf    *perf.Collector
	DB      Pinger
	Options Options
	Now     func() time.Time
}

// Server serves the welfare dashboard.
type Server struct {
	stores  Stores
	auth    *auth.Service
	cache   *querycache.Cache
	reports *reports.Generator
	perf    *perf.Collector
	db      Pinger
	opts    Options
	now     func() time.Time

	pages    pages
	flash    *middleware.FlashStore
	validate *validator.Validate
	// logouts collapses concurrent logouts of one session across requests.
	logouts singleflight.Group
}

// NewServer parses templates and prepares the handlers.
// PRE: deps.Auth, deps.Cache and deps.Reports are set; len(Options.CSRFKey) == 32
// POST: Returns a Server whose Handler is ready to mount
func NewServer(deps Deps) (*Server, error) {
	p, err := parsePages()
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Options.RateLimitPerSecond <= 0 {
		deps.Options.RateLimitPerSecond = 10
	}
	return &Server{
		stores:   deps.Stores,
		auth:     deps.Auth,
		cache:    deps.Cache,
		reports:  deps.Reports,
		perf:     deps.Perf,
		db:       deps.DB,
		opts:     deps.Options,
		now:      deps.Now,
		pages:    p,
		flash:    middleware.NewFlashStore(deps.Options.CookieKey, deps.Options.Secure),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Handler builds the router. Background work started here stops when ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	limiter := middleware.NewRateLimiter(ctx, s.opts.RateLimitPerSecond, time.Second)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Timing(s.perf, s.opts.SlowRequestMs))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	r.Get("/healthz", s.handleHealth)
	if m := s.perf.Metrics(); m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter))
		r.Use(middleware.CSRF(s.opts.CSRFKey, s.opts.Secure, s.opts.TrustedOrigins))
		r.Use(middleware.Flash(s.flash))

		// Refresh reads the refresh cookie itself; Auth would rotate it first.
		r.Post("/api/auth/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(middleware.AuthConfig{Backend: s.auth, Cache: s.cache, Quiet: isLogout}))

			r.Get("/login", s.handleLoginPage)
			r.Post("/login", s.handleLoginSubmit)
			r.Get("/api/session", s.handleSessionStatus)
			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth)
				r.Get("/", s.handleDashboard)
				r.Get("/api/me", s.handleMe)
				r.Post("/account/password", s.handleChangePassword)
				r.Get("/api/reports/progress", s.handleReportProgress)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(account.RoleAdmin, account.RoleCollector))
				r.Get("/collectors", s.handleCollectors)
				r.Post("/reports/collector", s.handlePrintCollector)
				r.Post("/reports/collector/email", s.handleEmailCollector)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(account.RoleAdmin))
				r.Post("/reports/all", s.handlePrintAll)
				r.Get("/api/admin/audit", s.handleAuditTrail)
				r.Get("/api/admin/perf", s.handlePerfSnapshot)
			})
		})
	})
	return r
}

// isLogout marks requests whose stale cookies are dropped silently.
func isLogout(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == "/logout"
}
