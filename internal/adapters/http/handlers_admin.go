package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	auditStore "welfare/internal/adapters/storage/audit"
	auditDomain "welfare/internal/domain/audit"
)

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuditTrail handles GET /api/admin/audit
// PRE: User must be authenticated as admin
// POST: Returns audit events newest first with optional category, actor and since filters
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auditStore.ListFilter{
		Category: auditDomain.Category(q.Get("category")),
		ActorID:  q.Get("actor_id"),
		Limit:    100,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse("2006-01-02", since)
		if err != nil {
			writeAPIError(w, apiError{Status: http.StatusBadRequest, Code: "invalid_since", Message: "since must be YYYY-MM-DD"})
			return
		}
		filter.Since = t
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 1000 {
		filter.Limit = l
	}

	events, err := s.stores.AuditStore.List(r.Context(), filter)
	if err != nil {
		internalError(w, err)
		return
	}
	if events == nil {
		events = []auditDomain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handlePerfSnapshot handles GET /api/admin/perf
// Aggregates the last hour of request, query and report timings.
func (s *Server) handlePerfSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.perf == nil {
		writeAPIError(w, apiError{Status: http.StatusNotFound, Code: "perf_disabled"})
		return
	}
	window := time.Hour
	if d, err := time.ParseDuration(r.URL.Query().Get("window")); err == nil && d > 0 {
		window = d
	}
	writeJSON(w, http.StatusOK, s.perf.Snapshot(s.now().Add(-window), 10))
}
