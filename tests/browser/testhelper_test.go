package browser_test

import (
	"context"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"welfare/internal/adapters/email"
	web "welfare/internal/adapters/http"
	"welfare/internal/adapters/pdf"
	"welfare/internal/adapters/storage"
	accountStore "welfare/internal/adapters/storage/account"
	auditStore "welfare/internal/adapters/storage/audit"
	memberStore "welfare/internal/adapters/storage/member"
	paymentStore "welfare/internal/adapters/storage/payment"
	sessionStore "welfare/internal/adapters/storage/session"
	"welfare/internal/adapters/storage/storagetest"
	"welfare/internal/application/auth"
	"welfare/internal/application/orchestrators"
	"welfare/internal/application/querycache"
	"welfare/internal/application/reports"
)

const testPassword = "TestPass123!"

// testApp holds the running test server and Playwright handles.
type testApp struct {
	BaseURL string
	PW      *playwright.Playwright
	Browser playwright.Browser
}

// newTestApp starts the full server over a seeded database and launches Chromium.
// Set WELFARE_BROWSER_TESTS=1 to run; Playwright browsers must be installed.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() || os.Getenv("WELFARE_BROWSER_TESTS") == "" {
		t.Skip("browser tests disabled; set WELFARE_BROWSER_TESTS=1")
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db := storagetest.Open(t)
	d := storage.DialectSQLite
	stores := web.Stores{
		AccountStore: accountStore.NewSQLStore(db, d),
		MemberStore:  memberStore.NewSQLStore(db, d),
		PaymentStore: paymentStore.NewSQLStore(db, d),
		AuditStore:   auditStore.NewSQLStore(db, d),
	}
	if _, err := orchestrators.ExecuteSeed(ctx, orchestrators.SeedInput{
		AdminLogin:     "admin",
		AdminEmail:     "admin@test.com",
		AdminPassword:  testPassword,
		Demo:           true,
		YearlyFeePence: 15000,
	}, orchestrators.SeedDeps{
		AccountStore: stores.AccountStore,
		MemberStore:  stores.MemberStore,
		PaymentStore: stores.PaymentStore,
	}); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	cache, err := querycache.New(querycache.Options{})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	srv, err := web.NewServer(web.Deps{
		Stores: stores,
		Auth: auth.NewService(auth.Deps{
			Accounts:   stores.AccountStore,
			Sessions:   sessionStore.NewSQLStore(db, d),
			Tokens:     auth.NewTokens([]byte("browser-test-secret-browser-test"), 15*time.Minute),
			RefreshTTL: time.Hour,
		}),
		Cache: cache,
		Reports: reports.NewGenerator(reports.Deps{
			Members:    stores.MemberStore,
			Renderer:   pdf.NewRenderer("Pakistan Welfare Association"),
			Mailer:     email.NewNoopSender(),
			AuditStore: stores.AuditStore,
		}),
		DB: db,
		Options: web.Options{
			CSRFKey:            []byte("browser-csrf-key-browser-csrf-ke"),
			CookieKey:          []byte("browser-cookie-key-browser-cooki"),
			RateLimitPerSecond: 1000,
			YearlyFeePence:     15000,
		},
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	httpSrv := &http.Server{Handler: srv.Handler(ctx)}
	go func() { _ = httpSrv.Serve(listener) }()

	pw, err := playwright.Run()
	if err != nil {
		t.Fatalf("failed to start Playwright: %v", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		t.Fatalf("failed to launch browser: %v", err)
	}

	t.Cleanup(func() {
		browser.Close()
		pw.Stop()
		httpSrv.Close()
	})
	return &testApp{
		BaseURL: "http://" + listener.Addr().String(),
		PW:      pw,
		Browser: browser,
	}
}

// newPage creates a new browser page (tab).
func (a *testApp) newPage(t *testing.T) playwright.Page {
	t.Helper()
	page, err := a.Browser.NewPage()
	if err != nil {
		t.Fatalf("failed to create page: %v", err)
	}
	t.Cleanup(func() { page.Close() })
	return page
}

// login signs in through the login form and waits for the dashboard.
func (a *testApp) login(t *testing.T, page playwright.Page, memberNumber string) {
	t.Helper()
	if _, err := page.Goto(a.BaseURL + "/login"); err != nil {
		t.Fatalf("failed to navigate to login: %v", err)
	}
	if err := page.Locator("input[name=member_number]").Fill(memberNumber); err != nil {
		t.Fatalf("failed to fill member number: %v", err)
	}
	if err := page.Locator("input[name=password]").Fill(testPassword); err != nil {
		t.Fatalf("failed to fill password: %v", err)
	}
	if err := page.Locator("form[action='/login'] button[type=submit]").Click(); err != nil {
		t.Fatalf("failed to click login: %v", err)
	}
	if err := page.WaitForURL(a.BaseURL+"/", playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(10000),
	}); err != nil {
		t.Fatalf("login did not redirect to dashboard: %v", err)
	}
}
