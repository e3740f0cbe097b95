package audit_test

import (
	"testing"
	"time"

	"welfare/internal/domain/audit"
)

func TestNewEvent_Builders(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	e := audit.NewEvent("acct-1", "PWA0001", "admin", audit.CategoryReport, audit.ActionPrint, now).
		WithResource("collector", "Anjum Riaz").
		WithDescription("printed collector report").
		WithSeverity(audit.SeverityWarning).
		WithIP("10.0.0.1")

	if e.ID == "" {
		t.Fatal("expected generated ID")
	}
	if !e.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", e.Timestamp, now)
	}
	if e.ResourceType != "collector" || e.ResourceID != "Anjum Riaz" {
		t.Errorf("resource = %s/%s", e.ResourceType, e.ResourceID)
	}
	if e.Severity != audit.SeverityWarning || e.IPAddress != "10.0.0.1" {
		t.Errorf("unexpected event %+v", e)
	}

	other := audit.NewEvent("acct-1", "PWA0001", "admin", audit.CategoryReport, audit.ActionPrint, now)
	if other.ID == e.ID {
		t.Error("IDs must be unique")
	}
}
