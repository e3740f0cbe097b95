package member

import (
	"context"

	domain "welfare/internal/domain/member"
)

// Store persists Member state.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Member, error)
	// FindForIdentity returns the single member whose member number or auth user id matches.
	// Returns storage.ErrNotFound for none and storage.ErrMultipleRows for more than one.
	FindForIdentity(ctx context.Context, memberNumber, authUserID string) (domain.Member, error)
	// ListByCollector returns a collector's members ordered by member number ascending.
	ListByCollector(ctx context.Context, collector string) ([]domain.Member, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Member, error)
	Count(ctx context.Context, filter ListFilter) (int, error)
	Collectors(ctx context.Context) ([]string, error)
	Save(ctx context.Context, m domain.Member) error
}

// ListFilter carries filtering parameters for List operations.
type ListFilter struct {
	Collector string
	Status    string
	Search    string // matches member number or name
	Sort      string // member_number, full_name, collector
	Dir       string // asc or desc
	Limit     int
	Offset    int
}

// SortColumns are the columns List accepts in ListFilter.Sort.
var SortColumns = []string{"member_number", "full_name", "collector", "status"}
