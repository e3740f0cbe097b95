package payment_test

import (
	"errors"
	"testing"
	"time"

	"welfare/internal/domain/payment"
)

func TestYearlyPayment_StatusLabel(t *testing.T) {
	pending := payment.DefaultYearly("m1", 2025, 4000)
	paid := pending
	paid.Status = payment.StatusPaid

	tests := []struct {
		name string
		y    payment.YearlyPayment
		now  time.Time
		want string
	}{
		{"pending inside window", pending, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), payment.LabelDue},
		{"pending on due day", pending, time.Date(2025, 1, 29, 23, 59, 0, 0, time.UTC), payment.LabelDue},
		{"pending after due day", pending, time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC), payment.LabelOverdue},
		{"paid after due day", paid, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), payment.LabelPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.y.StatusLabel(tt.now); got != tt.want {
				t.Errorf("StatusLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultYearly(t *testing.T) {
	y := payment.DefaultYearly("m1", 2024, 4000)
	if y.Status != payment.StatusPending {
		t.Errorf("Status = %q, want pending", y.Status)
	}
	if !y.DueDate.Equal(time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DueDate = %v", y.DueDate)
	}
	if err := y.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	if got := y.WindowLabel(); got != "January 1 - January 29 (2024)" {
		t.Errorf("WindowLabel() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	y := payment.YearlyPayment{Year: 2024, AmountPence: 0, Status: payment.StatusPending}
	if err := y.Validate(); !errors.Is(err, payment.ErrInvalidAmount) {
		t.Errorf("zero amount: %v", err)
	}
	y.AmountPence = 4000
	y.Status = "late"
	if err := y.Validate(); !errors.Is(err, payment.ErrInvalidStatus) {
		t.Errorf("bad status: %v", err)
	}

	e := payment.EmergencyCollection{AmountPence: 2000}
	if err := e.Validate(); !errors.Is(err, payment.ErrEmptyReason) {
		t.Errorf("empty reason: %v", err)
	}
}

func TestRecordTotalAndFormat(t *testing.T) {
	r := payment.Record{
		Yearly: payment.DefaultYearly("m1", 2024, 4000),
		Emergency: []payment.EmergencyCollection{
			{AmountPence: 2000, Reason: "Community Support Fund"},
			{AmountPence: 550, Reason: "Funeral support"},
		},
	}
	if got := payment.FormatPounds(r.TotalPence()); got != "65.50" {
		t.Errorf("FormatPounds(total) = %q, want 65.50", got)
	}
	if got := payment.FormatPounds(5); got != "0.05" {
		t.Errorf("FormatPounds(5) = %q", got)
	}
}
