package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Yearly fee status values.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
)

// Labels shown on the payment card.
const (
	LabelOverdue = "Overdue"
	LabelPaid    = "Paid"
	LabelDue     = "Due"
)

// The yearly fee is collected between 1 and 29 January.
const (
	DueMonth = time.January
	DueDay   = 29
)

// Methods is the only payment route the association accepts.
const Methods = "Cash or Bank Transfer"

// Domain errors
var (
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrInvalidYear   = errors.New("year must be between 2000 and 2100")
	ErrInvalidStatus = errors.New("status must be 'pending' or 'paid'")
	ErrEmptyReason   = errors.New("collection reason cannot be empty")
)

// YearlyPayment is the annual membership fee for one member and year.
type YearlyPayment struct {
	ID          string
	MemberID    string
	Year        int
	AmountPence int
	DueDate     time.Time
	Status      string
	PaidAt      time.Time
}

// EmergencyCollection is an ad-hoc collection taken from a member.
type EmergencyCollection struct {
	ID          string
	MemberID    string
	AmountPence int
	CollectedOn time.Time
	Reason      string
}

// Record is everything the payment card renders for a member.
type Record struct {
	Yearly    YearlyPayment
	Emergency []EmergencyCollection
}

// DueDate returns the yearly fee due date for year.
func DueDate(year int) time.Time {
	return time.Date(year, DueMonth, DueDay, 0, 0, 0, 0, time.UTC)
}

// DefaultYearly is the pending fee assumed when nothing has been recorded for the year.
// PRE: feePence > 0
// POST: Returns a pending YearlyPayment due on 29 January of year
func DefaultYearly(memberID string, year, feePence int) YearlyPayment {
	return YearlyPayment{
		MemberID:    memberID,
		Year:        year,
		AmountPence: feePence,
		DueDate:     DueDate(year),
		Status:      StatusPending,
	}
}

// Validate checks if the YearlyPayment has valid data.
// PRE: YearlyPayment struct is populated
// POST: Returns nil if valid, error otherwise
func (y *YearlyPayment) Validate() error {
	if y.AmountPence <= 0 {
		return ErrInvalidAmount
	}
	if y.Year < 2000 || y.Year > 2100 {
		return ErrInvalidYear
	}
	if y.Status != StatusPending && y.Status != StatusPaid {
		return ErrInvalidStatus
	}
	return nil
}

// IsOverdue reports whether the fee is still pending after the whole due day has passed.
// INVARIANT: YearlyPayment fields are not mutated
func (y YearlyPayment) IsOverdue(now time.Time) bool {
	if y.Status != StatusPending {
		return false
	}
	return !now.Before(y.DueDate.AddDate(0, 0, 1))
}

// StatusLabel returns the badge text for the card.
func (y YearlyPayment) StatusLabel(now time.Time) string {
	switch {
	case y.IsOverdue(now):
		return LabelOverdue
	case y.Status == StatusPaid:
		return LabelPaid
	default:
		return LabelDue
	}
}

// WindowLabel describes the payment window, e.g. "January 1 - January 29 (2025)".
func (y YearlyPayment) WindowLabel() string {
	return fmt.Sprintf("%s 1 - %s %d (%d)", DueMonth, DueMonth, DueDay, y.Year)
}

// Validate checks if the EmergencyCollection has valid data.
func (e *EmergencyCollection) Validate() error {
	if e.AmountPence <= 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(e.Reason) == "" {
		return ErrEmptyReason
	}
	return nil
}

// TotalPence sums the yearly fee and all emergency collections.
func (r Record) TotalPence() int {
	total := r.Yearly.AmountPence
	for _, e := range r.Emergency {
		total += e.AmountPence
	}
	return total
}

// FormatPounds renders pence as pounds with two decimals, e.g. 4000 -> "40.00".
func FormatPounds(pence int) string {
	sign := ""
	if pence < 0 {
		sign = "-"
		pence = -pence
	}
	return fmt.Sprintf("%s%d.%02d", sign, pence/100, pence%100)
}
