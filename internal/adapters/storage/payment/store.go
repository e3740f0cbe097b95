package payment

import (
	"context"

	domain "welfare/internal/domain/payment"
)

// Reader is the read side of Store.
type Reader interface {
	// GetYearly returns storage.ErrNotFound when nothing is recorded for the year.
	GetYearly(ctx context.Context, memberID string, year int) (domain.YearlyPayment, error)
	// ListEmergency returns a member's collections newest first.
	ListEmergency(ctx context.Context, memberID string) ([]domain.EmergencyCollection, error)
}

// Store persists yearly fees and emergency collections.
type Store interface {
	Reader
	SaveYearly(ctx context.Context, y domain.YearlyPayment) error
	SaveEmergency(ctx context.Context, e domain.EmergencyCollection) error
}
