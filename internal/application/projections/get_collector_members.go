package projections

import (
	"context"
	"errors"

	"welfare/internal/adapters/storage/member"
	"welfare/internal/application/listutil"
	"welfare/internal/domain/access"
	domainMember "welfare/internal/domain/member"
)

// ErrForbidden is returned when the identity may not see the member list.
var ErrForbidden = errors.New("not allowed to view members")

// MemberListSortColumns are the sortable columns of the collectors page.
var MemberListSortColumns = member.SortColumns

// MemberListFilterKeys are the recognised filters of the collectors page.
var MemberListFilterKeys = []string{"collector", "status"}

// GetCollectorMembersQuery carries query parameters.
type GetCollectorMembersQuery struct {
	Access access.Access
	Params listutil.ListParams
}

// CollectorGroup is one collector with a member count on the current page.
type CollectorGroup struct {
	Name     string
	CanPrint bool
	OnPage   int
}

// GetCollectorMembersResult carries the query result.
type GetCollectorMembersResult struct {
	Members     []domainMember.Member
	Collectors  []CollectorGroup
	Page        listutil.PageInfo
	Scope       string // collector the list is restricted to, "" for all
	CanPrintAll bool
}

// GetCollectorMembersDeps holds dependencies for GetCollectorMembers.
type GetCollectorMembersDeps struct {
	MemberStore MemberStore
}

// QueryGetCollectorMembers lists the members an admin or collector may print.
// PRE: query.Params parsed with MemberListSortColumns and MemberListFilterKeys
// POST: Collectors see only their own members; admins see everyone
func QueryGetCollectorMembers(ctx context.Context, query GetCollectorMembersQuery, deps GetCollectorMembersDeps) (GetCollectorMembersResult, error) {
	acc := query.Access
	if !acc.CanViewMembers() {
		return GetCollectorMembersResult{}, ErrForbidden
	}

	filter := member.ListFilter{
		Collector: query.Params.Filters["collector"],
		Status:    query.Params.Filters["status"],
		Search:    query.Params.Search,
		Sort:      query.Params.Sort,
		Dir:       query.Params.Dir,
	}
	if scope := acc.CollectorScope(); scope != "" {
		filter.Collector = scope
	}

	total, err := deps.MemberStore.Count(ctx, filter)
	if err != nil {
		return GetCollectorMembersResult{}, err
	}
	page := listutil.NewPageInfo(query.Params.Page, query.Params.PerPage, total)
	filter.Limit = page.PerPage
	filter.Offset = page.Offset()

	members, err := deps.MemberStore.List(ctx, filter)
	if err != nil {
		return GetCollectorMembersResult{}, err
	}

	names := []string{acc.CollectorScope()}
	if acc.IsAdmin() {
		if names, err = deps.MemberStore.Collectors(ctx); err != nil {
			return GetCollectorMembersResult{}, err
		}
	}
	onPage := make(map[string]int, len(names))
	for _, m := range members {
		onPage[m.Collector]++
	}
	groups := make([]CollectorGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, CollectorGroup{Name: name, CanPrint: acc.CanPrintCollector(name), OnPage: onPage[name]})
	}

	return GetCollectorMembersResult{
		Members:     members,
		Collectors:  groups,
		Page:        page,
		Scope:       acc.CollectorScope(),
		CanPrintAll: acc.CanPrintAll(),
	}, nil
}
