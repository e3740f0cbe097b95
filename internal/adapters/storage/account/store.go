package account

import (
	"context"

	domain "welfare/internal/domain/account"
)

// Store persists Account state.
type Store interface {
	GetByID(ctx context.Context, id string) (domain.Account, error)
	// GetByLogin matches the login case-insensitively.
	GetByLogin(ctx context.Context, login string) (domain.Account, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Account, error)
	Count(ctx context.Context, filter ListFilter) (int, error)
	Save(ctx context.Context, a domain.Account) error
}

// ListFilter carries filtering parameters for List operations.
type ListFilter struct {
	Role   string
	Limit  int
	Offset int
}
