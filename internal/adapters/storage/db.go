package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store errors shared by every concept store.
var (
	ErrNotFound     = errors.New("not found")
	ErrMultipleRows = errors.New("more than one row returned")
)

// Builder returns a squirrel statement builder with the dialect's placeholders.
func (d Dialect) Builder() sq.StatementBuilderType {
	if d == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Open connects to the configured database and applies pool settings.
// SQLite runs in WAL mode with foreign keys and a busy timeout.
// PRE: driver is "sqlite" or "postgres"
// POST: Returns a pinged *sql.DB and its Dialect
func Open(ctx context.Context, driver, url string) (*sql.DB, Dialect, error) {
	var (
		db      *sql.DB
		err     error
		dialect Dialect
	)
	switch Dialect(driver) {
	case DialectPostgres:
		dialect = DialectPostgres
		db, err = sql.Open("postgres", url)
	case DialectSQLite:
		dialect = DialectSQLite
		dsn := url + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
		db, err = sql.Open("sqlite", dsn)
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("database unreachable: %w", err)
	}
	return db, dialect, nil
}

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "accounts_members_sessions",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS account (
				id TEXT PRIMARY KEY,
				login TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at TEXT NOT NULL,
				failed_logins INTEGER NOT NULL DEFAULT 0,
				locked_until TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS member (
				id TEXT PRIMARY KEY,
				member_number TEXT NOT NULL UNIQUE,
				full_name TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				address TEXT NOT NULL DEFAULT '',
				town TEXT NOT NULL DEFAULT '',
				postcode TEXT NOT NULL DEFAULT '',
				collector TEXT NOT NULL,
				auth_user_id TEXT,
				status TEXT NOT NULL DEFAULT 'active',
				membership_type TEXT NOT NULL DEFAULT 'standard',
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_member_collector ON member (collector, member_number)`,
			`CREATE INDEX IF NOT EXISTS idx_member_auth_user ON member (auth_user_id)`,
			`CREATE TABLE IF NOT EXISTS auth_session (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES account(id),
				refresh_token TEXT NOT NULL UNIQUE,
				expires_at TEXT NOT NULL,
				refresh_expires_at TEXT NOT NULL,
				created_at TEXT NOT NULL,
				refreshed_at TEXT,
				revoked_at TEXT,
				user_agent TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_auth_session_user ON auth_session (user_id)`,
		},
	},
	{
		version: 2,
		name:    "payments_audit",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS yearly_payment (
				id TEXT PRIMARY KEY,
				member_id TEXT NOT NULL REFERENCES member(id),
				year INTEGER NOT NULL,
				amount_pence INTEGER NOT NULL,
				due_date TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				paid_at TEXT,
				UNIQUE (member_id, year)
			)`,
			`CREATE TABLE IF NOT EXISTS emergency_collection (
				id TEXT PRIMARY KEY,
				member_id TEXT NOT NULL REFERENCES member(id),
				amount_pence INTEGER NOT NULL,
				collected_on TEXT NOT NULL,
				reason TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_emergency_member ON emergency_collection (member_id, collected_on)`,
			`CREATE TABLE IF NOT EXISTS audit_event (
				id TEXT PRIMARY KEY,
				timestamp TEXT NOT NULL,
				category TEXT NOT NULL,
				action TEXT NOT NULL,
				severity TEXT NOT NULL,
				actor_id TEXT NOT NULL DEFAULT '',
				actor_login TEXT NOT NULL DEFAULT '',
				actor_role TEXT NOT NULL DEFAULT '',
				resource_type TEXT NOT NULL DEFAULT '',
				resource_id TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				ip_address TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_event (timestamp)`,
		},
	},
}

// LatestSchemaVersion returns the version the schema reaches after MigrateDB.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database.
// PRE: db is a valid connection
// POST: Returns the applied version
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if err := ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// MigrateDB applies pending migrations in order, each in its own transaction.
// PRE: db is a valid connection
// POST: Schema is at LatestSchemaVersion; applied steps are recorded in schema_version
func MigrateDB(ctx context.Context, db *sql.DB, d Dialect) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, d, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("schema_migrated")
	}
	return nil
}

func ensureVersionTable(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	return nil
}

// applyMigration runs one step and records it. It works on a database that
// has never been versioned.
func applyMigration(ctx context.Context, db *sql.DB, d Dialect, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureVersionTable(ctx, tx); err != nil {
		return err
	}

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	query, args, err := d.Builder().
		Insert("schema_version").
		Columns("version", "name", "applied_at").
		Values(m.version, m.name, FormatTime(time.Now().UTC())).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// Select runs a built query and scans every row into dest, a pointer to a
// slice of db-tagged structs.
// PRE: dest is a pointer to a slice
// POST: dest holds all rows; an empty result leaves dest untouched
func Select(ctx context.Context, db SQLDB, q sq.Sqlizer, dest any) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	return sqlx.StructScan(rows, dest)
}

// Exec runs a built statement.
func Exec(ctx context.Context, db SQLDB, q sq.Sqlizer) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	return db.ExecContext(ctx, query, args...)
}

// Count runs a COUNT(*) style query that returns a single integer.
func Count(ctx context.Context, db SQLDB, q sq.Sqlizer) (int, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MaybeSingle returns the only element of rows, ErrNotFound for none and
// ErrMultipleRows for more than one.
func MaybeSingle[T any](rows []T) (T, error) {
	var zero T
	switch len(rows) {
	case 0:
		return zero, ErrNotFound
	case 1:
		return rows[0], nil
	default:
		return zero, ErrMultipleRows
	}
}

// timeLayout is fixed width so TEXT columns compare in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t for a TEXT column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// NullableTime renders t for a nullable TEXT column; zero becomes NULL.
func NullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return FormatTime(t)
}

// ParseTime reads a TEXT timestamp written by FormatTime or by hand.
// Unparseable input yields the zero time.
func ParseTime(s string) time.Time {
	for _, f := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ParseNullTime reads a nullable TEXT timestamp.
func ParseNullTime(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	return ParseTime(ns.String)
}

// NullString maps "" to NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
