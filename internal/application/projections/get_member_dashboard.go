package projections

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/storage"
	"welfare/internal/adapters/storage/payment"
	"welfare/internal/application/querycache"
	domainMember "welfare/internal/domain/member"
	"welfare/internal/domain/notify"
	domainPayment "welfare/internal/domain/payment"
)

// MemberProfileQueryKey names the dashboard's cached query within a user's keys.
const MemberProfileQueryKey = "memberProfile"

// Dashboard errors.
var (
	ErrNoSession            = errors.New("no user logged in")
	ErrMemberNumberNotFound = errors.New("member number not found")
	ErrMemberNotFound       = errors.New("member not found")
)

// GetMemberDashboardQuery carries query parameters.
type GetMemberDashboardQuery struct {
	Now time.Time
}

// GetMemberDashboardResult carries the query result.
type GetMemberDashboardResult struct {
	Member        domainMember.Member
	Payment       domainPayment.Record
	PaymentStatus string // Overdue, Paid or Due
	Overdue       bool
	DueBy         string
	PaymentWindow string
	Methods       string
}

// GetMemberDashboardDeps holds dependencies for GetMemberDashboard.
type GetMemberDashboardDeps struct {
	Session        SessionSource
	MemberStore    MemberStore
	PaymentStore   PaymentStore
	Cache          *querycache.Cache
	Notifier       notify.Notifier
	YearlyFeePence int
}

type memberProfile struct {
	member  domainMember.Member
	payment domainPayment.Record
}

// QueryGetMemberDashboard loads the signed-in member's profile and payment card.
// The profile is cached under the user's "memberProfile" key.
// PRE: deps.Session reflects the current request
// POST: Returns the member linked by metadata member number or auth user id
// INVARIANT: At most one member matches; more than one is an error
func QueryGetMemberDashboard(ctx context.Context, query GetMemberDashboardQuery, deps GetMemberDashboardDeps) (GetMemberDashboardResult, error) {
	if _, ok := deps.Session.Session(); !ok {
		return GetMemberDashboardResult{}, ErrNoSession
	}
	user, ok := deps.Session.User()
	if !ok {
		return GetMemberDashboardResult{}, ErrNoSession
	}
	now := query.Now
	if now.IsZero() {
		now = time.Now()
	}

	key := querycache.UserKey(user.ID, MemberProfileQueryKey)
	profile, err := querycache.Fetch(ctx, deps.Cache, key, func(ctx context.Context) (memberProfile, error) {
		memberNumber := user.Metadata.MemberNumber
		if memberNumber == "" {
			log.Warn().Str("user_id", user.ID).Msg("member_number_missing")
			return memberProfile{}, ErrMemberNumberNotFound
		}
		m, err := deps.MemberStore.FindForIdentity(ctx, memberNumber, user.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return memberProfile{}, ErrMemberNotFound
		}
		if err != nil {
			return memberProfile{}, err
		}
		record, err := payment.RecordFor(ctx, deps.PaymentStore, m.ID, now.Year(), deps.YearlyFeePence)
		if err != nil {
			return memberProfile{}, err
		}
		return memberProfile{member: m, payment: record}, nil
	})
	if err != nil {
		notifyProfileError(deps.Notifier, user.ID, err)
		return GetMemberDashboardResult{}, err
	}

	yearly := profile.payment.Yearly
	return GetMemberDashboardResult{
		Member:        profile.member,
		Payment:       profile.payment,
		PaymentStatus: yearly.StatusLabel(now),
		Overdue:       yearly.IsOverdue(now),
		DueBy:         yearly.DueDate.Format("January 2, 2006"),
		PaymentWindow: yearly.WindowLabel(),
		Methods:       domainPayment.Methods,
	}, nil
}

// notifyProfileError surfaces a failed profile load once, after retries.
func notifyProfileError(n notify.Notifier, userID string, err error) {
	switch {
	case errors.Is(err, ErrMemberNumberNotFound):
		return
	case errors.Is(err, ErrMemberNotFound):
		log.Warn().Str("user_id", userID).Msg("member_not_found")
		if n != nil {
			n.Notify(notify.Notification{
				Title:       "Member not found",
				Description: "Could not find your member profile",
				Variant:     notify.VariantDestructive,
			})
		}
	default:
		log.Error().Err(err).Str("user_id", userID).Msg("member_fetch_failed")
		if n != nil {
			n.Notify(notify.Notification{
				Title:       "Error fetching member profile",
				Description: fetchErrorDescription(err),
				Variant:     notify.VariantDestructive,
			})
		}
	}
}

func fetchErrorDescription(err error) string {
	if errors.Is(err, storage.ErrMultipleRows) {
		return "More than one member record matches your account"
	}
	return "Please try again later"
}
