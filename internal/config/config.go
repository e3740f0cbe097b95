package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Database drivers understood by storage.Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr               string
	RateLimitPerSecond int
	SlowRequestMs      int
	// TrustedOrigins are extra hosts allowed to post forms, e.g. behind a proxy.
	TrustedOrigins []string
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver      string
	URL         string
	SlowQueryMs int
}

// AuthConfig holds signing keys and token lifetimes.
type AuthConfig struct {
	JWTSecret  []byte
	CSRFKey    []byte
	CookieKey  []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// PurgeSchedule is a cron spec for removing expired sessions.
	PurgeSchedule string
}

// EmailConfig configures the outbound email provider.
type EmailConfig struct {
	ResendKey string
	From      string
	ReplyTo   string
}

// SeedConfig holds the bootstrap admin credentials.
type SeedConfig struct {
	AdminMemberNumber string
	AdminEmail        string
	AdminPassword     string
	DemoData          bool
}

// Config is the full process configuration.
type Config struct {
	Env            string
	IsDev          bool
	Server         ServerConfig
	Database       DatabaseConfig
	Auth           AuthConfig
	Email          EmailConfig
	Seed           SeedConfig
	YearlyFeePence int
	QueryCacheSize int
	QueryCacheTTL  time.Duration
}

var (
	ErrMissingSecret = errors.New("secret is required in production")
	ErrInvalidKey    = errors.New("key must be 64 hex characters (32 bytes)")
	ErrUnknownDriver = errors.New("database driver must be sqlite or postgres")
)

// Load reads configuration from the environment, loading a .env file first when present.
// PRE: none
// POST: Returns a validated Config; secrets are random in development when unset
func Load() (Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	env := envOrDefault("WELFARE_ENV", EnvDevelopment)
	cfg := Config{
		Env:   env,
		IsDev: env != EnvProduction,
		Server: ServerConfig{
			Addr:               envOrDefault("WELFARE_ADDR", ":8080"),
			RateLimitPerSecond: envInt("WELFARE_RATE_LIMIT", 10),
			SlowRequestMs:      envInt("WELFARE_SLOW_REQUEST_MS", 200),
			TrustedOrigins:     envList("WELFARE_TRUSTED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:      envOrDefault("WELFARE_DB_DRIVER", DriverSQLite),
			URL:         envOrDefault("WELFARE_DB_URL", "welfare.db"),
			SlowQueryMs: envInt("WELFARE_SLOW_QUERY_MS", 50),
		},
		Auth: AuthConfig{
			AccessTTL:     envDuration("WELFARE_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:    envDuration("WELFARE_REFRESH_TTL", 7*24*time.Hour),
			PurgeSchedule: envOrDefault("WELFARE_SESSION_PURGE", "@every 1h"),
		},
		Email: EmailConfig{
			ResendKey: os.Getenv("WELFARE_RESEND_KEY"),
			From:      envOrDefault("WELFARE_EMAIL_FROM", "Pakistan Welfare Association <noreply@pwaburton.co.uk>"),
			ReplyTo:   envOrDefault("WELFARE_REPLY_TO", "committee@pwaburton.co.uk"),
		},
		Seed: SeedConfig{
			AdminMemberNumber: envOrDefault("WELFARE_ADMIN_MEMBER_NUMBER", "PWA0001"),
			AdminEmail:        envOrDefault("WELFARE_ADMIN_EMAIL", "committee@pwaburton.co.uk"),
			AdminPassword:     envOrDefault("WELFARE_ADMIN_PASSWORD", "change me immediately"),
		},
		YearlyFeePence: envInt("WELFARE_YEARLY_FEE_PENCE", 4000),
		QueryCacheSize: envInt("WELFARE_QUERY_CACHE_SIZE", 1024),
		QueryCacheTTL:  envDuration("WELFARE_QUERY_CACHE_TTL", time.Minute),
	}
	cfg.Seed.DemoData = cfg.IsDev && os.Getenv("WELFARE_SKIP_DEMO") == ""

	if cfg.Database.Driver != DriverSQLite && cfg.Database.Driver != DriverPostgres {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Database.Driver)
	}

	var err error
	if cfg.Auth.JWTSecret, err = loadKey("WELFARE_JWT_SECRET", cfg.IsDev); err != nil {
		return Config{}, err
	}
	if cfg.Auth.CSRFKey, err = loadKey("WELFARE_CSRF_KEY", cfg.IsDev); err != nil {
		return Config{}, err
	}
	if cfg.Auth.CookieKey, err = loadKey("WELFARE_COOKIE_KEY", cfg.IsDev); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadKey reads a hex-encoded 32 byte secret. In development a random key is generated.
func loadKey(name string, isDev bool) ([]byte, error) {
	if keyHex := os.Getenv(name); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("%s: %w", name, ErrInvalidKey)
		}
		return key, nil
	}
	if !isDev {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingSecret)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate %s: %w", name, err)
	}
	return key, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
