package orchestrators

import (
	"context"
	"errors"
	"testing"
	"time"

	"welfare/internal/adapters/storage"
	"welfare/internal/domain/audit"
)

func TestChangePassword_Success(t *testing.T) {
	store := newMemAccountStore(memberAccount(t))
	audits := &memAuditStore{}

	err := ExecuteChangePassword(context.Background(), ChangePasswordInput{
		AccountID:       "u1",
		CurrentPassword: "correct-horse",
		NewPassword:     "battery-staple",
		IPAddress:       "10.0.0.1",
	}, ChangePasswordDeps{AccountStore: store, AuditStore: audits, Now: func() time.Time { return loginNow }})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acct, _ := store.GetByID(context.Background(), "u1")
	if err := acct.CheckPassword("battery-staple"); err != nil {
		t.Error("new password not stored")
	}
	if err := acct.CheckPassword("correct-horse"); err == nil {
		t.Error("old password still accepted")
	}
	if got := audits.actions(); len(got) != 1 || got[0] != audit.ActionPasswordChange {
		t.Errorf("audit actions = %v", got)
	}
}

func TestChangePassword_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		input   ChangePasswordInput
		wantErr error
	}{
		{"wrong current", ChangePasswordInput{AccountID: "u1", CurrentPassword: "nope-nope", NewPassword: "battery-staple"}, ErrCurrentPasswordWrong},
		{"same password", ChangePasswordInput{AccountID: "u1", CurrentPassword: "correct-horse", NewPassword: "correct-horse"}, ErrNewPasswordSame},
		{"unknown account", ChangePasswordInput{AccountID: "u9", CurrentPassword: "correct-horse", NewPassword: "battery-staple"}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemAccountStore(memberAccount(t))
			audits := &memAuditStore{}
			err := ExecuteChangePassword(context.Background(), tt.input, ChangePasswordDeps{AccountStore: store, AuditStore: audits})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if len(audits.actions()) != 0 {
				t.Error("rejected change was audited")
			}
		})
	}
}

func TestChangePassword_TooShort(t *testing.T) {
	store := newMemAccountStore(memberAccount(t))
	err := ExecuteChangePassword(context.Background(), ChangePasswordInput{
		AccountID: "u1", CurrentPassword: "correct-horse", NewPassword: "short",
	}, ChangePasswordDeps{AccountStore: store})
	if err == nil {
		t.Fatal("expected error for short password")
	}
}
