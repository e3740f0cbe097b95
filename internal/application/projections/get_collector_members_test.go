package projections

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/application/listutil"
	"welfare/internal/domain/access"
	"welfare/internal/domain/account"
	domainMember "welfare/internal/domain/member"
)

func collectorFixture() *mockMemberStore {
	return &mockMemberStore{members: []domainMember.Member{
		{ID: "a", MemberNumber: "TM10001", FullName: "Imran Khan", Collector: "Anjum Riaz"},
		{ID: "b", MemberNumber: "TM10002", FullName: "Sana Iqbal", Collector: "Anjum Riaz"},
		{ID: "c", MemberNumber: "TM10003", FullName: "Bilal Ahmed", Collector: "Tariq Mahmood"},
	}}
}

func listParams(q url.Values) listutil.ListParams {
	return listutil.ParseListParams(q, MemberListSortColumns, MemberListFilterKeys)
}

func TestQueryGetCollectorMembers_CollectorSeesOwnMembers(t *testing.T) {
	store := collectorFixture()
	acc, err := access.Resolve(account.RoleCollector, account.Metadata{CollectorName: "Anjum Riaz"})
	require.NoError(t, err)

	// A collector cannot widen the scope with a query parameter.
	got, err := QueryGetCollectorMembers(context.Background(), GetCollectorMembersQuery{
		Access: acc,
		Params: listParams(url.Values{"collector": {"Tariq Mahmood"}}),
	}, GetCollectorMembersDeps{MemberStore: store})
	require.NoError(t, err)

	assert.Equal(t, "Anjum Riaz", store.lastList.Collector)
	assert.Len(t, got.Members, 2)
	assert.Equal(t, "Anjum Riaz", got.Scope)
	assert.False(t, got.CanPrintAll)
	require.Len(t, got.Collectors, 1)
	assert.Equal(t, CollectorGroup{Name: "Anjum Riaz", CanPrint: true, OnPage: 2}, got.Collectors[0])
}

func TestQueryGetCollectorMembers_AdminSeesAll(t *testing.T) {
	acc, err := access.Resolve(account.RoleAdmin, account.Metadata{})
	require.NoError(t, err)

	got, err := QueryGetCollectorMembers(context.Background(), GetCollectorMembersQuery{
		Access: acc,
		Params: listParams(url.Values{}),
	}, GetCollectorMembersDeps{MemberStore: collectorFixture()})
	require.NoError(t, err)

	assert.Len(t, got.Members, 3)
	assert.True(t, got.CanPrintAll)
	assert.Len(t, got.Collectors, 2)
	assert.Equal(t, 3, got.Page.Total)
	assert.Equal(t, 1, got.Page.TotalPages)
}

func TestQueryGetCollectorMembers_MemberForbidden(t *testing.T) {
	acc, err := access.Resolve(account.RoleMember, account.Metadata{MemberNumber: "TM10001"})
	require.NoError(t, err)

	_, err = QueryGetCollectorMembers(context.Background(), GetCollectorMembersQuery{Access: acc}, GetCollectorMembersDeps{MemberStore: collectorFixture()})
	assert.ErrorIs(t, err, ErrForbidden)
}
