package account_test

import (
	"errors"
	"testing"
	"time"

	"welfare/internal/domain/account"
)

// TestAccount_Validate tests validation of Account.
func TestAccount_Validate(t *testing.T) {
	tests := []struct {
		name    string
		account account.Account
		wantErr error
	}{
		{
			name:    "valid member account",
			account: account.Account{Login: "TM10001", Role: account.RoleMember},
		},
		{
			name:    "valid admin with email",
			account: account.Account{Login: "PWA0001", Email: "committee@example.org", Role: account.RoleAdmin},
		},
		{
			name: "valid collector",
			account: account.Account{
				Login:    "TM20001",
				Role:     account.RoleCollector,
				Metadata: account.Metadata{CollectorName: "Anjum Riaz"},
			},
		},
		{
			name:    "collector without collector name",
			account: account.Account{Login: "TM20002", Role: account.RoleCollector},
			wantErr: account.ErrCollectorName,
		},
		{
			name:    "empty login",
			account: account.Account{Role: account.RoleMember},
			wantErr: account.ErrEmptyLogin,
		},
		{
			name:    "invalid email",
			account: account.Account{Login: "TM1", Email: "nope", Role: account.RoleMember},
			wantErr: account.ErrInvalidEmail,
		},
		{
			name:    "invalid role",
			account: account.Account{Login: "TM1", Role: "coach"},
			wantErr: account.ErrInvalidRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestAccount_Password tests hashing and verification.
func TestAccount_Password(t *testing.T) {
	var a account.Account
	if err := a.SetPassword(""); !errors.Is(err, account.ErrEmptyPassword) {
		t.Fatalf("SetPassword(\"\") = %v, want ErrEmptyPassword", err)
	}
	if err := a.SetPassword("short"); !errors.Is(err, account.ErrPasswordTooShort) {
		t.Fatalf("SetPassword(short) = %v, want ErrPasswordTooShort", err)
	}
	if err := a.SetPassword("bismillah-2024"); err != nil {
		t.Fatalf("SetPassword() error: %v", err)
	}
	if err := a.CheckPassword("bismillah-2024"); err != nil {
		t.Errorf("CheckPassword(correct) = %v", err)
	}
	if err := a.CheckPassword("wrong-password"); !errors.Is(err, account.ErrWrongPassword) {
		t.Errorf("CheckPassword(wrong) = %v, want ErrWrongPassword", err)
	}
}

// TestAccount_Lockout tests the failed login counter.
func TestAccount_Lockout(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	var a account.Account

	for i := 0; i < account.MaxFailedLogins-1; i++ {
		a.RecordFailedLogin(now)
	}
	if a.IsLocked(now) {
		t.Fatal("account locked before reaching the failure limit")
	}

	a.RecordFailedLogin(now)
	if !a.IsLocked(now) {
		t.Fatal("account should be locked after the failure limit")
	}
	if a.IsLocked(now.Add(account.LockoutDuration + time.Second)) {
		t.Error("lock should expire after the lockout duration")
	}

	a.ResetFailedLogins()
	if a.FailedLogins != 0 || a.IsLocked(now) {
		t.Error("ResetFailedLogins should clear counter and lock")
	}
}
