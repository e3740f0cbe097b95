package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB creates an in-memory SQLite database pinned to one connection,
// since every new :memory: connection would see an empty database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// tableNames returns sorted user table names from sqlite_master.
func tableNames(t *testing.T, db *sql.DB) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	return names
}

var expectedTables = []string{
	"account",
	"audit_event",
	"auth_session",
	"emergency_collection",
	"member",
	"schema_version",
	"yearly_payment",
}

func TestMigrateDB_Fresh(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, MigrateDB(ctx, db, DialectSQLite))
	assert.Equal(t, expectedTables, tableNames(t, db))

	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, LatestSchemaVersion(), v)
}

func TestMigrateDB_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, MigrateDB(ctx, db, DialectSQLite))
	require.NoError(t, MigrateDB(ctx, db, DialectSQLite))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(migrations), n, "each migration recorded once")
}

func TestMigrateDB_DataSurvivesRerun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, MigrateDB(ctx, db, DialectSQLite))

	_, err := db.Exec(`INSERT INTO member (id, member_number, full_name, collector, created_at) VALUES ('m1', 'TM10001', 'Imran Khan', 'Anjum Riaz', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	require.NoError(t, MigrateDB(ctx, db, DialectSQLite))

	var name string
	require.NoError(t, db.QueryRow("SELECT full_name FROM member WHERE id = 'm1'").Scan(&name))
	assert.Equal(t, "Imran Khan", name)
}

func TestMigrateDB_ResumesFromPartialVersion(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	// Fresh database: nothing has created schema_version yet.
	require.NoError(t, applyMigration(ctx, db, DialectSQLite, migrations[0]))
	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, MigrateDB(ctx, db, DialectSQLite))
	assert.Equal(t, expectedTables, tableNames(t, db))
}

func TestDialect_Builder(t *testing.T) {
	q, _, err := DialectPostgres.Builder().Select("id").From("member").Where("member_number = ?", "TM1").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM member WHERE member_number = $1", q)

	q, _, err = DialectSQLite.Builder().Select("id").From("member").Where("member_number = ?", "TM1").ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM member WHERE member_number = ?", q)
}

func TestMaybeSingle(t *testing.T) {
	_, err := MaybeSingle([]int{})
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := MaybeSingle([]int{7})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = MaybeSingle([]int{1, 2})
	assert.ErrorIs(t, err, ErrMultipleRows)
}

func TestTimeHelpers(t *testing.T) {
	assert.Nil(t, NullableTime(ParseTime("")))
	ts := ParseTime("2024-01-29")
	assert.Equal(t, 29, ts.Day())
	assert.Equal(t, ts, ParseTime(FormatTime(ts)))
	assert.True(t, ParseNullTime(sql.NullString{}).IsZero())
	assert.Nil(t, NullString(""))
	assert.Equal(t, "x", NullString("x"))
}
