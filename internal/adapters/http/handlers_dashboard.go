package web

import (
	"errors"
	"net/http"
	"time"

	"welfare/internal/adapters/http/middleware"
	"welfare/internal/application/projections"
	"welfare/internal/domain/payment"
)

type dashboardView struct {
	Profile     *projections.GetMemberDashboardResult
	Unavailable string
	IsStaff     bool
	CanPrintAll bool
}

// memberDashboard runs the dashboard projection for the request's session.
func (s *Server) memberDashboard(r *http.Request) (projections.GetMemberDashboardResult, error) {
	ctx := r.Context()
	t, ok := middleware.TrackerFromContext(ctx)
	if !ok {
		return projections.GetMemberDashboardResult{}, projections.ErrNoSession
	}
	return projections.QueryGetMemberDashboard(ctx, projections.GetMemberDashboardQuery{Now: s.now()}, projections.GetMemberDashboardDeps{
		Session:        t,
		MemberStore:    s.stores.MemberStore,
		PaymentStore:   s.stores.PaymentStore,
		Cache:          s.cache,
		Notifier:       middleware.NotifierFromContext(ctx),
		YearlyFeePence: s.opts.YearlyFeePence,
	})
}

// handleDashboard handles GET /
// Staff accounts without a member number see their tools without a profile card.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	acc, _ := middleware.AccessFromContext(r.Context())
	view := dashboardView{
		IsStaff:     acc.CanViewMembers(),
		CanPrintAll: acc.CanPrintAll(),
	}
	if view.IsStaff && acc.MemberNumber == "" {
		s.renderPage(w, r, http.StatusOK, "dashboard.html", "Dashboard", view)
		return
	}

	result, err := s.memberDashboard(r)
	switch {
	case errors.Is(err, projections.ErrNoSession):
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	case errors.Is(err, projections.ErrMemberNumberNotFound):
		view.Unavailable = "Member number not found"
	case errors.Is(err, projections.ErrMemberNotFound):
		view.Unavailable = "Could not find your member profile"
	case err != nil:
		view.Unavailable = "Error fetching member profile"
	default:
		view.Profile = &result
	}
	s.renderPage(w, r, http.StatusOK, "dashboard.html", "Dashboard", view)
}

type memberJSON struct {
	MemberNumber   string `json:"member_number"`
	FullName       string `json:"full_name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
	Town           string `json:"town,omitempty"`
	Postcode       string `json:"postcode,omitempty"`
	Collector      string `json:"collector"`
	Status         string `json:"status"`
	MembershipType string `json:"membership_type"`
}

type emergencyJSON struct {
	Amount      string    `json:"amount"`
	CollectedOn time.Time `json:"collected_on"`
	Reason      string    `json:"reason"`
}

type paymentJSON struct {
	Year          int             `json:"year"`
	Amount        string          `json:"amount"`
	Status        string          `json:"status"`
	Label         string          `json:"label"`
	Overdue       bool            `json:"overdue"`
	DueBy         string          `json:"due_by"`
	PaymentWindow string          `json:"payment_window"`
	Methods       string          `json:"methods"`
	Emergency     []emergencyJSON `json:"emergency"`
	Total         string          `json:"total"`
}

type meJSON struct {
	Member  memberJSON  `json:"member"`
	Payment paymentJSON `json:"payment"`
}

// handleMe handles GET /api/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	result, err := s.memberDashboard(r)
	switch {
	case errors.Is(err, projections.ErrNoSession):
		writeAPIError(w, apiError{Status: http.StatusUnauthorized, Code: "unauthorized"})
		return
	case errors.Is(err, projections.ErrMemberNumberNotFound):
		writeAPIError(w, apiError{Status: http.StatusNotFound, Code: "member_number_not_found", Message: "Member number not found"})
		return
	case errors.Is(err, projections.ErrMemberNotFound):
		writeAPIError(w, apiError{Status: http.StatusNotFound, Code: "member_not_found", Message: "Could not find your member profile"})
		return
	case err != nil:
		internalError(w, err)
		return
	}

	m := result.Member
	y := result.Payment.Yearly
	out := meJSON{
		Member: memberJSON{
			MemberNumber:   m.MemberNumber,
			FullName:       m.FullName,
			Email:          m.Email,
			Phone:          m.Phone,
			Address:        m.Address,
			Town:           m.Town,
			Postcode:       m.Postcode,
			Collector:      m.Collector,
			Status:         m.Status,
			MembershipType: m.MembershipType,
		},
		Payment: paymentJSON{
			Year:          y.Year,
			Amount:        payment.FormatPounds(y.AmountPence),
			Status:        y.Status,
			Label:         result.PaymentStatus,
			Overdue:       result.Overdue,
			DueBy:         result.DueBy,
			PaymentWindow: result.PaymentWindow,
			Methods:       result.Methods,
			Emergency:     make([]emergencyJSON, 0, len(result.Payment.Emergency)),
			Total:         payment.FormatPounds(result.Payment.TotalPence()),
		},
	}
	for _, e := range result.Payment.Emergency {
		out.Payment.Emergency = append(out.Payment.Emergency, emergencyJSON{
			Amount:      payment.FormatPounds(e.AmountPence),
			CollectedOn: e.CollectedOn,
			Reason:      e.Reason,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
