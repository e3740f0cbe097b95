package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"welfare/internal/adapters/storage"
	domain "welfare/internal/domain/account"
)

var columns = []string{
	"id", "login", "email", "password_hash", "role", "status", "metadata",
	"created_at", "failed_logins", "locked_until",
}

type row struct {
	ID           string         `db:"id"`
	Login        string         `db:"login"`
	Email        string         `db:"email"`
	PasswordHash string         `db:"password_hash"`
	Role         string         `db:"role"`
	Status       string         `db:"status"`
	Metadata     string         `db:"metadata"`
	CreatedAt    string         `db:"created_at"`
	FailedLogins int            `db:"failed_logins"`
	LockedUntil  sql.NullString `db:"locked_until"`
}

func (r row) toDomain() (domain.Account, error) {
	a := domain.Account{
		ID:           r.ID,
		Login:        r.Login,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		Status:       r.Status,
		CreatedAt:    storage.ParseTime(r.CreatedAt),
		FailedLogins: r.FailedLogins,
		LockedUntil:  storage.ParseNullTime(r.LockedUntil),
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &a.Metadata); err != nil {
			return domain.Account{}, fmt.Errorf("account %s metadata: %w", r.ID, err)
		}
	}
	return a, nil
}

// SQLStore implements Store over SQLite or Postgres.
type SQLStore struct {
	db storage.SQLDB
	sb sq.StatementBuilderType
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new account store.
func NewSQLStore(db storage.SQLDB, d storage.Dialect) *SQLStore {
	return &SQLStore{db: db, sb: d.Builder()}
}

func (s *SQLStore) query(ctx context.Context, q sq.SelectBuilder) ([]domain.Account, error) {
	var rows []row
	if err := storage.Select(ctx, s.db, q, &rows); err != nil {
		return nil, err
	}
	accounts := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (s *SQLStore) one(ctx context.Context, where sq.Sqlizer) (domain.Account, error) {
	accounts, err := s.query(ctx, s.sb.Select(columns...).From("account").Where(where))
	if err != nil {
		return domain.Account{}, err
	}
	return storage.MaybeSingle(accounts)
}

// GetByID retrieves an Account by its ID.
// PRE: id is non-empty
// POST: Returns the entity or storage.ErrNotFound
func (s *SQLStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	a, err := s.one(ctx, sq.Eq{"id": id})
	if err != nil {
		return domain.Account{}, fmt.Errorf("account %s: %w", id, err)
	}
	return a, nil
}

// GetByLogin retrieves an Account by login, ignoring case.
// PRE: login is non-empty
// POST: Returns the entity or storage.ErrNotFound
func (s *SQLStore) GetByLogin(ctx context.Context, login string) (domain.Account, error) {
	return s.one(ctx, sq.Eq{"LOWER(login)": strings.ToLower(strings.TrimSpace(login))})
}

func applyFilter(q sq.SelectBuilder, filter ListFilter) sq.SelectBuilder {
	if filter.Role != "" {
		q = q.Where(sq.Eq{"role": filter.Role})
	}
	return q
}

// List retrieves Accounts ordered by login.
// PRE: filter has valid parameters
// POST: Returns matching entities
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]domain.Account, error) {
	q := applyFilter(s.sb.Select(columns...).From("account"), filter).OrderBy("login")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit)).Offset(uint64(max(filter.Offset, 0)))
	}
	return s.query(ctx, q)
}

// Count returns the number of accounts matching the filter.
func (s *SQLStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	return storage.Count(ctx, s.db, applyFilter(s.sb.Select("COUNT(*)").From("account"), filter))
}

// Save persists an Account (insert or update by id).
// PRE: entity has been validated
// POST: Entity is persisted
func (s *SQLStore) Save(ctx context.Context, a domain.Account) error {
	md, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	status := a.Status
	if status == "" {
		status = domain.StatusActive
	}
	q := s.sb.Insert("account").
		Columns(columns...).
		Values(
			a.ID, a.Login, a.Email, a.PasswordHash, a.Role, status, string(md),
			storage.FormatTime(a.CreatedAt), a.FailedLogins, storage.NullableTime(a.LockedUntil),
		).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			login=excluded.login,
			email=excluded.email,
			password_hash=excluded.password_hash,
			role=excluded.role,
			status=excluded.status,
			metadata=excluded.metadata,
			failed_logins=excluded.failed_logins,
			locked_until=excluded.locked_until`)
	_, err = storage.Exec(ctx, s.db, q)
	return err
}
