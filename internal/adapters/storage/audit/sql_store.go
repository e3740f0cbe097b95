package audit

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"welfare/internal/adapters/storage"
	domain "welfare/internal/domain/audit"
)

var columns = []string{
	"id", "timestamp", "category", "action", "severity", "actor_id", "actor_login",
	"actor_role", "resource_type", "resource_id", "description", "ip_address",
}

type row struct {
	ID           string `db:"id"`
	Timestamp    string `db:"timestamp"`
	Category     string `db:"category"`
	Action       string `db:"action"`
	Severity     string `db:"severity"`
	ActorID      string `db:"actor_id"`
	ActorLogin   string `db:"actor_login"`
	ActorRole    string `db:"actor_role"`
	ResourceType string `db:"resource_type"`
	ResourceID   string `db:"resource_id"`
	Description  string `db:"description"`
	IPAddress    string `db:"ip_address"`
}

func (r row) toDomain() domain.Event {
	return domain.Event{
		ID:           r.ID,
		Timestamp:    storage.ParseTime(r.Timestamp),
		Category:     domain.Category(r.Category),
		Action:       domain.Action(r.Action),
		Severity:     domain.Severity(r.Severity),
		ActorID:      r.ActorID,
		ActorLogin:   r.ActorLogin,
		ActorRole:    r.ActorRole,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Description:  r.Description,
		IPAddress:    r.IPAddress,
	}
}

// SQLStore implements Store over SQLite or Postgres.
type SQLStore struct {
	db storage.SQLDB
	sb sq.StatementBuilderType
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new audit store.
func NewSQLStore(db storage.SQLDB, d storage.Dialect) *SQLStore {
	return &SQLStore{db: db, sb: d.Builder()}
}

// Save appends an audit event.
// PRE: e.ID is unique
// POST: Event is persisted
func (s *SQLStore) Save(ctx context.Context, e domain.Event) error {
	q := s.sb.Insert("audit_event").
		Columns(columns...).
		Values(
			e.ID, storage.FormatTime(e.Timestamp), string(e.Category), string(e.Action), string(e.Severity),
			e.ActorID, e.ActorLogin, e.ActorRole, e.ResourceType, e.ResourceID, e.Description, e.IPAddress,
		)
	_, err := storage.Exec(ctx, s.db, q)
	return err
}

// List returns events newest first.
// PRE: filter.Limit >= 0; zero means 100
// POST: Returns at most Limit events
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]domain.Event, error) {
	q := s.sb.Select(columns...).From("audit_event").OrderBy("timestamp DESC")
	if filter.Category != "" {
		q = q.Where(sq.Eq{"category": string(filter.Category)})
	}
	if filter.ActorID != "" {
		q = q.Where(sq.Eq{"actor_id": filter.ActorID})
	}
	if !filter.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"timestamp": storage.FormatTime(filter.Since)})
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var rows []row
	if err := storage.Select(ctx, s.db, q.Limit(uint64(limit)), &rows); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r row, _ int) domain.Event { return r.toDomain() }), nil
}
