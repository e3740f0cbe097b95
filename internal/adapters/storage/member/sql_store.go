package member

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"welfare/internal/adapters/storage"
	domain "welfare/internal/domain/member"
)

var columns = []string{
	"id", "member_number", "full_name", "email", "phone", "address", "town", "postcode",
	"collector", "auth_user_id", "status", "membership_type", "created_at",
}

// row mirrors the member table for sqlx scanning.
type row struct {
	ID             string         `db:"id"`
	MemberNumber   string         `db:"member_number"`
	FullName       string         `db:"full_name"`
	Email          string         `db:"email"`
	Phone          string         `db:"phone"`
	Address        string         `db:"address"`
	Town           string         `db:"town"`
	Postcode       string         `db:"postcode"`
	Collector      string         `db:"collector"`
	AuthUserID     sql.NullString `db:"auth_user_id"`
	Status         string         `db:"status"`
	MembershipType string         `db:"membership_type"`
	CreatedAt      string         `db:"created_at"`
}

func (r row) toDomain() domain.Member {
	return domain.Member{
		ID:             r.ID,
		MemberNumber:   r.MemberNumber,
		FullName:       r.FullName,
		Email:          r.Email,
		Phone:          r.Phone,
		Address:        r.Address,
		Town:           r.Town,
		Postcode:       r.Postcode,
		Collector:      r.Collector,
		AuthUserID:     r.AuthUserID.String,
		Status:         r.Status,
		MembershipType: r.MembershipType,
		CreatedAt:      storage.ParseTime(r.CreatedAt),
	}
}

// SQLStore implements Store over SQLite or Postgres.
type SQLStore struct {
	db storage.SQLDB
	sb sq.StatementBuilderType
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new member store.
func NewSQLStore(db storage.SQLDB, d storage.Dialect) *SQLStore {
	return &SQLStore{db: db, sb: d.Builder()}
}

func (s *SQLStore) selectMembers() sq.SelectBuilder {
	return s.sb.Select(columns...).From("member")
}

func (s *SQLStore) query(ctx context.Context, q sq.SelectBuilder) ([]domain.Member, error) {
	var rows []row
	if err := storage.Select(ctx, s.db, q, &rows); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r row, _ int) domain.Member { return r.toDomain() }), nil
}

// GetByID retrieves a Member by its ID.
// PRE: id is non-empty
// POST: Returns the entity or storage.ErrNotFound
func (s *SQLStore) GetByID(ctx context.Context, id string) (domain.Member, error) {
	members, err := s.query(ctx, s.selectMembers().Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Member{}, err
	}
	m, err := storage.MaybeSingle(members)
	if err != nil {
		return domain.Member{}, fmt.Errorf("member %s: %w", id, err)
	}
	return m, nil
}

// FindForIdentity looks a member up by member number OR auth user id.
// PRE: at least one of memberNumber, authUserID is non-empty
// POST: Returns exactly one member, storage.ErrNotFound, or storage.ErrMultipleRows
func (s *SQLStore) FindForIdentity(ctx context.Context, memberNumber, authUserID string) (domain.Member, error) {
	var or sq.Or
	if memberNumber != "" {
		or = append(or, sq.Eq{"member_number": memberNumber})
	}
	if authUserID != "" {
		or = append(or, sq.Eq{"auth_user_id": authUserID})
	}
	if len(or) == 0 {
		return domain.Member{}, storage.ErrNotFound
	}

	// Two rows are enough to tell "one" from "many".
	members, err := s.query(ctx, s.selectMembers().Where(or).OrderBy("member_number").Limit(2))
	if err != nil {
		return domain.Member{}, err
	}
	return storage.MaybeSingle(members)
}

// ListByCollector returns every member of a collector ordered by member number.
// PRE: collector is non-empty
// POST: Returns members sorted ascending by member_number, possibly empty
func (s *SQLStore) ListByCollector(ctx context.Context, collector string) ([]domain.Member, error) {
	return s.query(ctx, s.selectMembers().
		Where(sq.Eq{"collector": collector}).
		OrderBy("member_number ASC"))
}

func applyFilter(q sq.SelectBuilder, filter ListFilter) sq.SelectBuilder {
	if filter.Collector != "" {
		q = q.Where(sq.Eq{"collector": filter.Collector})
	}
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": filter.Status})
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where(sq.Or{
			sq.Like{"LOWER(member_number)": like},
			sq.Like{"LOWER(full_name)": like},
		})
	}
	return q
}

// List retrieves Members based on the filter.
// PRE: filter has valid parameters
// POST: Returns matching entities
func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]domain.Member, error) {
	q := applyFilter(s.selectMembers(), filter).OrderBy(sortClause(filter))
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit)).Offset(uint64(max(filter.Offset, 0)))
	}
	return s.query(ctx, q)
}

// Count returns the number of members matching the filter.
func (s *SQLStore) Count(ctx context.Context, filter ListFilter) (int, error) {
	return storage.Count(ctx, s.db, applyFilter(s.sb.Select("COUNT(*)").From("member"), filter))
}

type collectorRow struct {
	Collector string `db:"collector"`
}

// Collectors returns the distinct collector names in alphabetical order.
func (s *SQLStore) Collectors(ctx context.Context) ([]string, error) {
	var rows []collectorRow
	q := s.sb.Select("DISTINCT collector").From("member").OrderBy("collector")
	if err := storage.Select(ctx, s.db, q, &rows); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r collectorRow, _ int) string { return r.Collector }), nil
}

// Save persists a Member (insert or update by id).
// PRE: entity has been validated
// POST: Entity is persisted
func (s *SQLStore) Save(ctx context.Context, m domain.Member) error {
	membershipType := m.MembershipType
	if membershipType == "" {
		membershipType = domain.TypeStandard
	}
	q := s.sb.Insert("member").
		Columns(columns...).
		Values(
			m.ID, m.MemberNumber, m.FullName, m.Email, m.Phone, m.Address, m.Town, m.Postcode,
			m.Collector, storage.NullString(m.AuthUserID), m.Status, membershipType,
			storage.FormatTime(m.CreatedAt),
		).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			member_number=excluded.member_number,
			full_name=excluded.full_name,
			email=excluded.email,
			phone=excluded.phone,
			address=excluded.address,
			town=excluded.town,
			postcode=excluded.postcode,
			collector=excluded.collector,
			auth_user_id=excluded.auth_user_id,
			status=excluded.status,
			membership_type=excluded.membership_type`)
	_, err := storage.Exec(ctx, s.db, q)
	return err
}

// sortClause builds a safe ORDER BY from the allow-listed columns.
func sortClause(filter ListFilter) string {
	col := "member_number"
	if slices.Contains(SortColumns, filter.Sort) {
		col = filter.Sort
	}
	dir := "ASC"
	if filter.Dir == "desc" {
		dir = "DESC"
	}
	if col == "member_number" {
		return col + " " + dir
	}
	return col + " " + dir + ", member_number ASC"
}
