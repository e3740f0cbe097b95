package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"welfare/internal/adapters/storage"
	domain "welfare/internal/domain/payment"
)

var yearlyColumns = []string{"id", "member_id", "year", "amount_pence", "due_date", "status", "paid_at"}

type yearlyRow struct {
	ID          string         `db:"id"`
	MemberID    string         `db:"member_id"`
	Year        int            `db:"year"`
	AmountPence int            `db:"amount_pence"`
	DueDate     string         `db:"due_date"`
	Status      string         `db:"status"`
	PaidAt      sql.NullString `db:"paid_at"`
}

func (r yearlyRow) toDomain() domain.YearlyPayment {
	return domain.YearlyPayment{
		ID:          r.ID,
		MemberID:    r.MemberID,
		Year:        r.Year,
		AmountPence: r.AmountPence,
		DueDate:     storage.ParseTime(r.DueDate),
		Status:      r.Status,
		PaidAt:      storage.ParseNullTime(r.PaidAt),
	}
}

var emergencyColumns = []string{"id", "member_id", "amount_pence", "collected_on", "reason"}

type emergencyRow struct {
	ID          string `db:"id"`
	MemberID    string `db:"member_id"`
	AmountPence int    `db:"amount_pence"`
	CollectedOn string `db:"collected_on"`
	Reason      string `db:"reason"`
}

func (r emergencyRow) toDomain() domain.EmergencyCollection {
	return domain.EmergencyCollection{
		ID:          r.ID,
		MemberID:    r.MemberID,
		AmountPence: r.AmountPence,
		CollectedOn: storage.ParseTime(r.CollectedOn),
		Reason:      r.Reason,
	}
}

// SQLStore implements Store over SQLite or Postgres.
type SQLStore struct {
	db storage.SQLDB
	sb sq.StatementBuilderType
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a new payment store.
func NewSQLStore(db storage.SQLDB, d storage.Dialect) *SQLStore {
	return &SQLStore{db: db, sb: d.Builder()}
}

// GetYearly retrieves the fee recorded for a member and year.
// POST: Returns the entity or storage.ErrNotFound
func (s *SQLStore) GetYearly(ctx context.Context, memberID string, year int) (domain.YearlyPayment, error) {
	var rows []yearlyRow
	q := s.sb.Select(yearlyColumns...).From("yearly_payment").Where(sq.Eq{"member_id": memberID, "year": year})
	if err := storage.Select(ctx, s.db, q, &rows); err != nil {
		return domain.YearlyPayment{}, err
	}
	r, err := storage.MaybeSingle(rows)
	if err != nil {
		return domain.YearlyPayment{}, err
	}
	return r.toDomain(), nil
}

// SaveYearly upserts the fee for (member, year). A missing ID is generated.
// PRE: y has been validated
// POST: One row exists for (member_id, year)
func (s *SQLStore) SaveYearly(ctx context.Context, y domain.YearlyPayment) error {
	if y.ID == "" {
		y.ID = uuid.NewString()
	}
	if y.DueDate.IsZero() {
		y.DueDate = domain.DueDate(y.Year)
	}
	q := s.sb.Insert("yearly_payment").
		Columns(yearlyColumns...).
		Values(y.ID, y.MemberID, y.Year, y.AmountPence, storage.FormatTime(y.DueDate), y.Status, storage.NullableTime(y.PaidAt)).
		Suffix(`ON CONFLICT(member_id, year) DO UPDATE SET
			amount_pence=excluded.amount_pence,
			due_date=excluded.due_date,
			status=excluded.status,
			paid_at=excluded.paid_at`)
	_, err := storage.Exec(ctx, s.db, q)
	return err
}

// ListEmergency returns a member's emergency collections newest first.
func (s *SQLStore) ListEmergency(ctx context.Context, memberID string) ([]domain.EmergencyCollection, error) {
	var rows []emergencyRow
	q := s.sb.Select(emergencyColumns...).From("emergency_collection").
		Where(sq.Eq{"member_id": memberID}).
		OrderBy("collected_on DESC", "id")
	if err := storage.Select(ctx, s.db, q, &rows); err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r emergencyRow, _ int) domain.EmergencyCollection { return r.toDomain() }), nil
}

// SaveEmergency inserts an emergency collection. A missing ID is generated.
// PRE: e has been validated
func (s *SQLStore) SaveEmergency(ctx context.Context, e domain.EmergencyCollection) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	q := s.sb.Insert("emergency_collection").
		Columns(emergencyColumns...).
		Values(e.ID, e.MemberID, e.AmountPence, storage.FormatTime(e.CollectedOn), e.Reason)
	_, err := storage.Exec(ctx, s.db, q)
	return err
}

// RecordFor assembles the payment card for a member. When no fee is recorded
// for year, the default pending fee of feePence is assumed.
// PRE: memberID non-empty; feePence > 0
// POST: Record.Yearly is always populated
func RecordFor(ctx context.Context, store Reader, memberID string, year, feePence int) (domain.Record, error) {
	yearly, err := store.GetYearly(ctx, memberID, year)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		yearly = domain.DefaultYearly(memberID, year, feePence)
	case err != nil:
		return domain.Record{}, fmt.Errorf("yearly payment: %w", err)
	}
	emergency, err := store.ListEmergency(ctx, memberID)
	if err != nil {
		return domain.Record{}, fmt.Errorf("emergency collections: %w", err)
	}
	return domain.Record{Yearly: yearly, Emergency: emergency}, nil
}
