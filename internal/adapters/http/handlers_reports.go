package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/http/middleware"
	memberStore "welfare/internal/adapters/storage/member"
	"welfare/internal/application/listutil"
	"welfare/internal/application/projections"
	"welfare/internal/application/reports"
	"welfare/internal/domain/notify"
)

type collectorsView struct {
	projections.GetCollectorMembersResult
	Params         listutil.ListParams
	PerPageOptions []int
	Progress       reports.Progress
}

// requester builds the report requester for the signed-in user.
func requester(ctx context.Context) (reports.Requester, bool) {
	user, ok := middleware.CurrentUser(ctx)
	if !ok {
		return reports.Requester{}, false
	}
	acc, ok := middleware.AccessFromContext(ctx)
	if !ok {
		return reports.Requester{}, false
	}
	return reports.Requester{
		UserID:   user.ID,
		Login:    user.Login,
		Email:    user.Email,
		Access:   acc,
		Notifier: middleware.NotifierFromContext(ctx),
	}, true
}

// handleCollectors handles GET /collectors
// PRE: User is an admin or collector
// POST: Renders the members the user may print, grouped by collector
func (s *Server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acc, _ := middleware.AccessFromContext(ctx)
	user, _ := middleware.CurrentUser(ctx)

	lp := listutil.ParseListParams(r.URL.Query(), projections.MemberListSortColumns, projections.MemberListFilterKeys)
	result, err := projections.QueryGetCollectorMembers(ctx, projections.GetCollectorMembersQuery{Access: acc, Params: lp},
		projections.GetCollectorMembersDeps{MemberStore: s.stores.MemberStore})
	if errors.Is(err, projections.ErrForbidden) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	s.renderPage(w, r, http.StatusOK, "collectors.html", "Members", collectorsView{
		GetCollectorMembersResult: result,
		Params:                    lp,
		PerPageOptions:            listutil.PerPageOptions,
		Progress:                  s.reports.Progress(user.ID),
	})
}

// reportFailed maps a generator error onto the response. Notifications were
// already raised by the generator, except for the in-progress rejection.
func reportFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reports.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case errors.Is(err, reports.ErrGenerationInProgress):
		middleware.NotifierFromContext(r.Context()).Notify(notify.Error("A report is already being generated"))
		if wantsJSON(r) {
			writeAPIError(w, apiError{Status: http.StatusConflict, Code: "generation_in_progress"})
			return
		}
	case wantsJSON(r):
		status := http.StatusInternalServerError
		if errors.Is(err, reports.ErrNoMembers) || errors.Is(err, reports.ErrNoEmailAddress) {
			status = http.StatusUnprocessableEntity
		}
		writeAPIError(w, apiError{Status: status, Code: "report_failed", Message: err.Error()})
		return
	}
	http.Redirect(w, r, "/collectors", http.StatusSeeOther)
}

// handlePrintCollector handles POST /reports/collector
// PRE: form carries collector; collectors may only print their own name
// POST: PDF download, or redirect back with a notification
func (s *Server) handlePrintCollector(w http.ResponseWriter, r *http.Request) {
	req, ok := requester(r.Context())
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	doc, err := s.reports.PrintCollector(r.Context(), req, strings.TrimSpace(r.FormValue("collector")))
	if err != nil {
		reportFailed(w, r, err)
		return
	}
	sendDocument(w, doc.Filename, doc.ContentType, doc.Data)
}

// handleEmailCollector handles POST /reports/collector/email
func (s *Server) handleEmailCollector(w http.ResponseWriter, r *http.Request) {
	req, ok := requester(r.Context())
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}
	if err := s.reports.EmailCollector(r.Context(), req, strings.TrimSpace(r.FormValue("collector"))); err != nil {
		reportFailed(w, r, err)
		return
	}
	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/collectors", http.StatusSeeOther)
}

// handlePrintAll handles POST /reports/all
// PRE: User is an admin
// POST: ZIP download with one PDF per collector
func (s *Server) handlePrintAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := requester(ctx)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	members, err := s.stores.MemberStore.List(ctx, memberStore.ListFilter{Sort: "member_number"})
	if err != nil {
		internalError(w, err)
		return
	}
	doc, err := s.reports.PrintAll(ctx, req, members, func(current, total int, collector string) {
		log.Debug().Int("current", current).Int("total", total).Str("collector", collector).Msg("report_progress")
	})
	if err != nil {
		reportFailed(w, r, err)
		return
	}
	sendDocument(w, doc.Filename, doc.ContentType, doc.Data)
}

// handleReportProgress handles GET /api/reports/progress
func (s *Server) handleReportProgress(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.CurrentUser(r.Context())
	writeJSON(w, http.StatusOK, s.reports.Progress(user.ID))
}
