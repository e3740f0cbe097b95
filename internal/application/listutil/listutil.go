// Package listutil parses the query string of paged member lists.
package listutil

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// DefaultPerPage is used when per_page is missing or not one of PerPageOptions.
const DefaultPerPage = 20

// PerPageOptions are the page sizes offered on the collectors screen.
var PerPageOptions = []int{10, 20, 50, 100, 200}

// pageWindow is how many page links pagination shows at once.
const pageWindow = 5

// ListParams is a parsed list request. Sort is empty or an allowed column;
// Dir is always "asc" or "desc".
type ListParams struct {
	Page    int
	PerPage int
	Sort    string
	Dir     string
	Search  string
	Filters map[string]string
}

// ParseListParams reads page, per_page, sort, dir, q and the named filters.
// PRE: allowedSortCols and filterKeys are the only values honoured
// POST: Page >= 1, PerPage is one of PerPageOptions, Filters holds non-empty values only
func ParseListParams(q url.Values, allowedSortCols []string, filterKeys []string) ListParams {
	lp := ListParams{
		Page:    max(atoi(q.Get("page")), 1),
		PerPage: atoi(q.Get("per_page")),
		Sort:    q.Get("sort"),
		Dir:     strings.ToLower(q.Get("dir")),
		Search:  strings.TrimSpace(q.Get("q")),
		Filters: make(map[string]string, len(filterKeys)),
	}
	for _, key := range filterKeys {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			lp.Filters[key] = v
		}
	}
	if !slices.Contains(PerPageOptions, lp.PerPage) {
		lp.PerPage = DefaultPerPage
	}
	if !slices.Contains(allowedSortCols, lp.Sort) {
		lp.Sort = ""
	}
	if lp.Dir != "desc" {
		lp.Dir = "asc"
	}
	return lp
}

// Encode renders the params back into a query string pointing at page.
func (lp ListParams) Encode(page int) string {
	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("per_page", strconv.Itoa(lp.PerPage))
	if lp.Sort != "" {
		v.Set("sort", lp.Sort)
		v.Set("dir", lp.Dir)
	}
	if lp.Search != "" {
		v.Set("q", lp.Search)
	}
	for k, f := range lp.Filters {
		v.Set(k, f)
	}
	return v.Encode()
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// PageInfo describes the slice of a list being shown.
type PageInfo struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPageInfo clamps page into [1, TotalPages]. An empty list still has one page.
func NewPageInfo(page, perPage, total int) PageInfo {
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	pages := max((total+perPage-1)/perPage, 1)
	return PageInfo{
		Page:       min(max(page, 1), pages),
		PerPage:    perPage,
		Total:      total,
		TotalPages: pages,
	}
}

// Offset is the number of rows before the current page.
func (p PageInfo) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// StartRow is the 1-based index of the first row shown, or 0 for an empty list.
func (p PageInfo) StartRow() int {
	if p.Total == 0 {
		return 0
	}
	return p.Offset() + 1
}

// EndRow is the 1-based index of the last row shown.
func (p PageInfo) EndRow() int {
	return min(p.Offset()+p.PerPage, p.Total)
}

// PageNumbers returns up to pageWindow page numbers around the current page.
func (p PageInfo) PageNumbers() []int {
	end := min(max(p.Page-pageWindow/2, 1)+pageWindow-1, p.TotalPages)
	start := max(end-pageWindow+1, 1)
	return lo.RangeFrom(start, end-start+1)
}

// ShowPagination reports whether the list spans more than one page.
func (p PageInfo) ShowPagination() bool {
	return p.TotalPages > 1
}
