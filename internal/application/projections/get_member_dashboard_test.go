package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/adapters/storage"
	"welfare/internal/adapters/storage/member"
	paymentStore "welfare/internal/adapters/storage/payment"
	"welfare/internal/application/querycache"
	"welfare/internal/domain/account"
	domainMember "welfare/internal/domain/member"
	"welfare/internal/domain/notify"
	domainPayment "welfare/internal/domain/payment"
	domainSession "welfare/internal/domain/session"
)

// --- Mock stores ---

type mockSession struct {
	session *domainSession.Session
	user    domainSession.User
}

func (m mockSession) Session() (domainSession.Session, bool) {
	if m.session == nil {
		return domainSession.Session{}, false
	}
	return *m.session, true
}

func (m mockSession) User() (domainSession.User, bool) {
	return m.user, m.session != nil
}

type mockMemberStore struct {
	members   []domainMember.Member
	err       error
	findCalls int
	lastList  member.ListFilter
}

func (m *mockMemberStore) FindForIdentity(_ context.Context, memberNumber, authUserID string) (domainMember.Member, error) {
	m.findCalls++
	if m.err != nil {
		return domainMember.Member{}, m.err
	}
	var found []domainMember.Member
	for _, mem := range m.members {
		if mem.MemberNumber == memberNumber || (authUserID != "" && mem.AuthUserID == authUserID) {
			found = append(found, mem)
		}
	}
	return storage.MaybeSingle(found)
}

func (m *mockMemberStore) List(_ context.Context, f member.ListFilter) ([]domainMember.Member, error) {
	m.lastList = f
	var out []domainMember.Member
	for _, mem := range m.members {
		if f.Collector == "" || mem.Collector == f.Collector {
			out = append(out, mem)
		}
	}
	return out, m.err
}

func (m *mockMemberStore) Count(ctx context.Context, f member.ListFilter) (int, error) {
	list, err := m.List(ctx, f)
	return len(list), err
}

func (m *mockMemberStore) Collectors(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, mem := range m.members {
		if !seen[mem.Collector] {
			seen[mem.Collector] = true
			out = append(out, mem.Collector)
		}
	}
	return out, nil
}

// The dashboard only reads payments; a read-only store must be enough.
var _ paymentStore.Reader = PaymentStore(nil)
var _ PaymentStore = (*mockPaymentStore)(nil)

type mockPaymentStore struct {
	yearly    map[string]domainPayment.YearlyPayment
	emergency []domainPayment.EmergencyCollection
}

func (m *mockPaymentStore) GetYearly(_ context.Context, memberID string, year int) (domainPayment.YearlyPayment, error) {
	y, ok := m.yearly[memberID]
	if !ok || y.Year != year {
		return domainPayment.YearlyPayment{}, storage.ErrNotFound
	}
	return y, nil
}

func (m *mockPaymentStore) ListEmergency(context.Context, string) ([]domainPayment.EmergencyCollection, error) {
	return m.emergency, nil
}

// --- Fixture ---

var dashboardNow = time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

func signedIn(memberNumber string) mockSession {
	return mockSession{
		session: &domainSession.Session{ID: "s1", UserID: "u1"},
		user:    domainSession.User{ID: "u1", Login: memberNumber, Metadata: account.Metadata{MemberNumber: memberNumber}},
	}
}

func dashboardDeps(t *testing.T, sess SessionSource, members *mockMemberStore) (GetMemberDashboardDeps, *notify.Recorder) {
	t.Helper()
	cache, err := querycache.New(querycache.Options{})
	require.NoError(t, err)
	rec := &notify.Recorder{}
	return GetMemberDashboardDeps{
		Session:        sess,
		MemberStore:    members,
		PaymentStore:   &mockPaymentStore{},
		Cache:          cache,
		Notifier:       rec,
		YearlyFeePence: 4000,
	}, rec
}

var imran = domainMember.Member{ID: "m1", MemberNumber: "TM10001", FullName: "Imran Khan", Collector: "Anjum Riaz"}

// --- Tests ---

func TestQueryGetMemberDashboard_NoSession(t *testing.T) {
	deps, rec := dashboardDeps(t, mockSession{}, &mockMemberStore{})
	_, err := QueryGetMemberDashboard(context.Background(), GetMemberDashboardQuery{Now: dashboardNow}, deps)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, rec.All())
}

func TestQueryGetMemberDashboard_MissingMemberNumber(t *testing.T) {
	members := &mockMemberStore{members: []domainMember.Member{imran}}
	deps, rec := dashboardDeps(t, signedIn(""), members)

	_, err := QueryGetMemberDashboard(context.Background(), GetMemberDashboardQuery{Now: dashboardNow}, deps)
	assert.ErrorIs(t, err, ErrMemberNumberNotFound)
	assert.Zero(t, members.findCalls, "members are not queried without a member number")
	assert.Empty(t, rec.All())
}

func TestQueryGetMemberDashboard_MemberNotFound(t *testing.T) {
	deps, rec := dashboardDeps(t, signedIn("TM99999"), &mockMemberStore{members: []domainMember.Member{imran}})

	_, err := QueryGetMemberDashboard(context.Background(), GetMemberDashboardQuery{Now: dashboardNow}, deps)
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.Equal(t, []notify.Notification{{
		Title: "Member not found", Description: "Could not find your member profile", Variant: notify.VariantDestructive,
	}}, rec.All(), "one notification despite the cache retry")
}

func TestQueryGetMemberDashboard_StoreError(t *testing.T) {
	boom := errors.New("connection reset")
	members := &mockMemberStore{err: boom}
	deps, rec := dashboardDeps(t, signedIn("TM10001"), members)

	_, err := QueryGetMemberDashboard(context.Background(), GetMemberDashboardQuery{Now: dashboardNow}, deps)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, members.findCalls, "single retry")
	notes := rec.All()
	require.Len(t, notes, 1)
	assert.Equal(t, "Error fetching member profile", notes[0].Title)
}

func TestQueryGetMemberDashboard_AmbiguousMatchIsError(t *testing.T) {
	linked := domainMember.Member{ID: "m2", MemberNumber: "TM10002", FullName: "Sana Iqbal", Collector: "Anjum Riaz", AuthUserID: "u1"}
	deps, rec := dashboardDeps(t, signedIn("TM10001"), &mockMemberStore{members: []domainMember.Member{imran, linked}})

	_, err := QueryGetMemberDashboard(context.Background(), GetMemberDashboardQuery{Now: dashboardNow}, deps)
	assert.ErrorIs(t, err, storage.ErrMultipleRows)
	require.Len(t, rec.All(), 1)
}

func TestQueryGetMemberDashboard_Success(t *testing.T) {
	deps, rec := dashboardDeps(t, signedIn("TM10001"), &mockMemberStore{members: []domainMember.Member{imran}})
	deps.PaymentStore = &mockPaymentStore{emergency: []domainPayment.EmergencyCollection{
		{MemberID: "m1", AmountPence: 2000, Reason: "Community Support Fund", CollectedOn: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
	}}

	got, err := QueryGetMemberDashboard(context.Background(), GetMemberDashboardQuery{Now: dashboardNow}, deps)
	require.NoError(t, err)
	assert.Equal(t, "Imran Khan", got.Member.FullName)
	assert.Equal(t, 4000, got.Payment.Yearly.AmountPence)
	assert.Equal(t, domainPayment.LabelOverdue, got.PaymentStatus)
	assert.True(t, got.Overdue)
	assert.Equal(t, "January 29, 2025", got.DueBy)
	assert.Equal(t, "Cash or Bank Transfer", got.Methods)
	assert.Len(t, got.Payment.Emergency, 1)
	assert.Empty(t, rec.All())
}

func TestQueryGetMemberDashboard_PaidFee(t *testing.T) {
	deps, _ := dashboardDeps(t, signedIn("TM10001"), &mockMemberStore{members: []domainMember.Member{imran}})
	deps.PaymentStore = &mockPaymentStore{yearly: map[string]domainPayment.YearlyPayment{
		"m1": {MemberID: "m1", Year: 2025, AmountPence: 4000, DueDate: domainPayment.DueDate(2025), Status: domainPayment.StatusPaid},
	}}

	got, err := QueryGetMemberDashboard(context.Background(), GetMemberDashboardQuery{Now: dashboardNow}, deps)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.LabelPaid, got.PaymentStatus)
	assert.False(t, got.Overdue)
}

func TestQueryGetMemberDashboard_CachedUntilInvalidated(t *testing.T) {
	members := &mockMemberStore{members: []domainMember.Member{imran}}
	deps, _ := dashboardDeps(t, signedIn("TM10001"), members)
	ctx := context.Background()
	q := GetMemberDashboardQuery{Now: dashboardNow}

	_, err := QueryGetMemberDashboard(ctx, q, deps)
	require.NoError(t, err)
	_, err = QueryGetMemberDashboard(ctx, q, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, members.findCalls)

	deps.Cache.Invalidate(querycache.UserPrefix("u1"))
	_, err = QueryGetMemberDashboard(ctx, q, deps)
	require.NoError(t, err)
	assert.Equal(t, 2, members.findCalls, "invalidate then fetch re-issues the query")
}
