package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"welfare/internal/adapters/storage"
	domain "welfare/internal/domain/session"
)

var columns = []string{
	"id", "user_id", "refresh_token", "expires_at", "refresh_expires_at",
	"created_at", "refreshed_at", "revoked_at", "user_agent", "ip_address",
}

type row struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	RefreshToken     string         `db:"refresh_token"`
	ExpiresAt        string         `db:"expires_at"`
	RefreshExpiresAt string         `db:"refresh_expires_at"`
	CreatedAt        string         `db:"created_at"`
	RefreshedAt      sql.NullString `db:"refreshed_at"`
	RevokedAt        sql.NullString `db:"revoked_at"`
	UserAgent        string         `db:"user_agent"`
	IPAddress        string         `db:"ip_address"`
}

func (r row) toDomain() domain.Session {
	return domain.Session{
		ID:               r.ID,
		UserID:           r.UserID,
		RefreshToken:     r.RefreshToken,
		ExpiresAt:        storage.ParseTime(r.ExpiresAt),
		RefreshExpiresAt: storage.ParseTime(r.RefreshExpiresAt),
		CreatedAt:        storage.ParseTime(r.CreatedAt),
		RefreshedAt:      storage.ParseNullTime(r.RefreshedAt),
		RevokedAt:        storage.ParseNullTime(r.RevokedAt),
		UserAgent:        r.UserAgent,
		IPAddress:        r.IPAddress,
	}
}

// SQLStore implements Store over SQLite or Postgres.
type SQLStore struct {
	db storage.SQLDB
	sb sq.StatementBuilderType
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new session store.
func NewSQLStore(db storage.SQLDB, d storage.Dialect) *SQLStore {
	return &SQLStore{db: db, sb: d.Builder()}
}

func (s *SQLStore) one(ctx context.Context, where sq.Sqlizer) (domain.Session, error) {
	var rows []row
	if err := storage.Select(ctx, s.db, s.sb.Select(columns...).From("auth_session").Where(where), &rows); err != nil {
		return domain.Session{}, err
	}
	r, err := storage.MaybeSingle(rows)
	if err != nil {
		return domain.Session{}, err
	}
	return r.toDomain(), nil
}

// Create inserts a new session.
// PRE: s.ID and s.RefreshToken are unique
// POST: Session is persisted
func (s *SQLStore) Create(ctx context.Context, sess domain.Session) error {
	q := s.sb.Insert("auth_session").
		Columns(columns...).
		Values(
			sess.ID, sess.UserID, sess.RefreshToken,
			storage.FormatTime(sess.ExpiresAt), storage.FormatTime(sess.RefreshExpiresAt),
			storage.FormatTime(sess.CreatedAt), storage.NullableTime(sess.RefreshedAt),
			storage.NullableTime(sess.RevokedAt), sess.UserAgent, sess.IPAddress,
		)
	_, err := storage.Exec(ctx, s.db, q)
	return err
}

// GetByID retrieves a session by its ID, revoked or not.
// POST: Returns the entity or storage.ErrNotFound
func (s *SQLStore) GetByID(ctx context.Context, id string) (domain.Session, error) {
	sess, err := s.one(ctx, sq.Eq{"id": id})
	if err != nil {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	return sess, nil
}

// GetByRefreshToken retrieves a session by its current refresh token.
// POST: Returns the entity or storage.ErrNotFound
func (s *SQLStore) GetByRefreshToken(ctx context.Context, token string) (domain.Session, error) {
	return s.one(ctx, sq.Eq{"refresh_token": token})
}

// Rotate stores a refreshed credential pair.
// PRE: sess.ID exists
// POST: refresh_token, expires_at, refresh_expires_at and refreshed_at updated
func (s *SQLStore) Rotate(ctx context.Context, sess domain.Session) error {
	res, err := storage.Exec(ctx, s.db, s.sb.Update("auth_session").
		Set("refresh_token", sess.RefreshToken).
		Set("expires_at", storage.FormatTime(sess.ExpiresAt)).
		Set("refresh_expires_at", storage.FormatTime(sess.RefreshExpiresAt)).
		Set("refreshed_at", storage.NullableTime(sess.RefreshedAt)).
		Where(sq.Eq{"id": sess.ID, "revoked_at": nil}))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Revoke marks a session revoked.
// POST: Returns true only when this call revoked it
func (s *SQLStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := storage.Exec(ctx, s.db, s.sb.Update("auth_session").
		Set("revoked_at", storage.FormatTime(at)).
		Where(sq.Eq{"id": id, "revoked_at": nil}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RevokeAllForUser revokes every live session of a user.
func (s *SQLStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := storage.Exec(ctx, s.db, s.sb.Update("auth_session").
		Set("revoked_at", storage.FormatTime(at)).
		Where(sq.Eq{"user_id": userID, "revoked_at": nil}))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeExpired deletes dead sessions.
// POST: Returns the number of rows removed
func (s *SQLStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int, error) {
	ts := storage.FormatTime(cutoff)
	res, err := storage.Exec(ctx, s.db, s.sb.Delete("auth_session").Where(sq.Or{
		sq.Lt{"refresh_expires_at": ts},
		sq.And{sq.NotEq{"revoked_at": nil}, sq.Lt{"revoked_at": ts}},
	}))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountActive returns the number of sessions still usable at now.
func (s *SQLStore) CountActive(ctx context.Context, now time.Time) (int, error) {
	return storage.Count(ctx, s.db, s.sb.Select("COUNT(*)").From("auth_session").Where(sq.And{
		sq.Eq{"revoked_at": nil},
		sq.Gt{"refresh_expires_at": storage.FormatTime(now)},
	}))
}

// ListForUser returns a user's sessions newest first.
func (s *SQLStore) ListForUser(ctx context.Context, userID string) ([]domain.Session, error) {
	var rows []row
	q := s.sb.Select(columns...).From("auth_session").Where(sq.Eq{"user_id": userID}).OrderBy("created_at DESC")
	if err := storage.Select(ctx, s.db, q, &rows); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r row, _ int) domain.Session { return r.toDomain() }), nil
}
