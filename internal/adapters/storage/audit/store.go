package audit

import (
	"context"
	"time"

	domain "welfare/internal/domain/audit"
)

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, e domain.Event) error
	List(ctx context.Context, filter ListFilter) ([]domain.Event, error)
}

// ListFilter carries filtering parameters for List operations.
type ListFilter struct {
	Category domain.Category
	ActorID  string
	Since    time.Time
	Limit    int
}
