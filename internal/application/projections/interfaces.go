package projections

import (
	"context"

	"welfare/internal/adapters/storage/member"
	domainMember "welfare/internal/domain/member"
	domainPayment "welfare/internal/domain/payment"
	domainSession "welfare/internal/domain/session"
)

// MemberStore interface for member queries.
type MemberStore interface {
	FindForIdentity(ctx context.Context, memberNumber, authUserID string) (domainMember.Member, error)
	List(ctx context.Context, filter member.ListFilter) ([]domainMember.Member, error)
	Count(ctx context.Context, filter member.ListFilter) (int, error)
	Collectors(ctx context.Context) ([]string, error)
}

// PaymentStore interface for payment queries.
type PaymentStore interface {
	GetYearly(ctx context.Context, memberID string, year int) (domainPayment.YearlyPayment, error)
	ListEmergency(ctx context.Context, memberID string) ([]domainPayment.EmergencyCollection, error)
}

// SessionSource exposes the session tracked for the current request.
type SessionSource interface {
	Session() (domainSession.Session, bool)
	User() (domainSession.User, bool)
}
