package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/email"
	web "welfare/internal/adapters/http"
	"welfare/internal/adapters/http/perf"
	"welfare/internal/adapters/pdf"
	"welfare/internal/adapters/storage"
	accountStore "welfare/internal/adapters/storage/account"
	auditStore "welfare/internal/adapters/storage/audit"
	memberStore "welfare/internal/adapters/storage/member"
	paymentStore "welfare/internal/adapters/storage/payment"
	sessionStore "welfare/internal/adapters/storage/session"
	"welfare/internal/application/auth"
	"welfare/internal/application/orchestrators"
	"welfare/internal/application/querycache"
	"welfare/internal/application/reports"
	"welfare/internal/config"
	"welfare/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Setup(false)
		log.Fatal().Err(err).Msg("config_invalid")
	}
	logger.Setup(cfg.IsDev)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server_failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	db, dialect, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.MigrateDB(ctx, db, dialect); err != nil {
		return err
	}
	log.Info().Str("driver", cfg.Database.Driver).Int("schema", storage.LatestSchemaVersion()).Msg("database_ready")

	metrics := perf.NewMetrics()
	collector := perf.NewCollector(perf.DefaultRingSize, metrics)
	timedDB := storage.NewTimedDB(db, collector, cfg.Database.SlowQueryMs)

	stores := web.Stores{
		AccountStore: accountStore.NewSQLStore(timedDB, dialect),
		MemberStore:  memberStore.NewSQLStore(timedDB, dialect),
		PaymentStore: paymentStore.NewSQLStore(timedDB, dialect),
		AuditStore:   auditStore.NewSQLStore(timedDB, dialect),
	}
	sessions := sessionStore.NewSQLStore(timedDB, dialect)

	if cfg.Seed.AdminPassword != "" {
		res, err := orchestrators.ExecuteSeed(ctx, orchestrators.SeedInput{
			AdminLogin:     cfg.Seed.AdminMemberNumber,
			AdminEmail:     cfg.Seed.AdminEmail,
			AdminPassword:  cfg.Seed.AdminPassword,
			Demo:           cfg.Seed.DemoData,
			YearlyFeePence: cfg.YearlyFeePence,
		}, orchestrators.SeedDeps{
			AccountStore: stores.AccountStore,
			MemberStore:  stores.MemberStore,
			PaymentStore: stores.PaymentStore,
		})
		if err != nil {
			return err
		}
		log.Info().Int("accounts", res.Accounts).Int("members", res.Members).Bool("demo", cfg.Seed.DemoData).Msg("seed_complete")
	}

	authSvc := auth.NewService(auth.Deps{
		Accounts:   stores.AccountStore,
		Sessions:   sessions,
		Tokens:     auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL),
		Broker:     auth.NewBroker(),
		Metrics:    metrics,
		RefreshTTL: cfg.Auth.RefreshTTL,
	})

	cache, err := querycache.New(querycache.Options{
		Size:    cfg.QueryCacheSize,
		TTL:     cfg.QueryCacheTTL,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	var mailer email.Sender
	if cfg.Email.ResendKey != "" {
		mailer = email.NewResendSender(cfg.Email.ResendKey, cfg.Email.From)
		log.Info().Msg("email_sender_resend")
	} else {
		mailer = email.NewNoopSender()
		if !cfg.IsDev {
			log.Warn().Msg("email_delivery_disabled: WELFARE_RESEND_KEY is not set")
		}
	}

	generator := reports.NewGenerator(reports.Deps{
		Members:    stores.MemberStore,
		Renderer:   pdf.NewRenderer("Pakistan Welfare Association"),
		Mailer:     mailer,
		ReplyTo:    cfg.Email.ReplyTo,
		AuditStore: stores.AuditStore,
		Metrics:    metrics,
		Timings:    collector,
	})

	jobs, err := startJobs(ctx, cfg.Auth.PurgeSchedule, orchestrators.PurgeSessionsDeps{
		Sessions:   authSvc,
		AuditStore: stores.AuditStore,
	})
	if err != nil {
		return err
	}
	defer jobs.Stop()

	srv, err := web.NewServer(web.Deps{
		Stores:  stores,
		Auth:    authSvc,
		Cache:   cache,
		Reports: generator,
		Perf:    collector,
		DB:      timedDB,
		Options: web.Options{
			CSRFKey:            cfg.Auth.CSRFKey,
			CookieKey:          cfg.Auth.CookieKey,
			Secure:             !cfg.IsDev,
			TrustedOrigins:     cfg.Server.TrustedOrigins,
			RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
			SlowRequestMs:      cfg.Server.SlowRequestMs,
			YearlyFeePence:     cfg.YearlyFeePence,
		},
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("version", version).Str("addr", cfg.Server.Addr).Str("env", cfg.Env).Msg("server_starting")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
