package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/storage"
	"welfare/internal/domain/account"
	"welfare/internal/domain/member"
	"welfare/internal/domain/payment"
)

// SeedDeps holds stores needed for seeding.
type SeedDeps struct {
	AccountStore seedAccountStore
	MemberStore  seedMemberStore
	PaymentStore seedPaymentStore // optional: nil skips payment records
	Now          func() time.Time
}

type seedAccountStore interface {
	Save(ctx context.Context, a account.Account) error
	GetByLogin(ctx context.Context, login string) (account.Account, error)
}

type seedMemberStore interface {
	Save(ctx context.Context, m member.Member) error
	FindForIdentity(ctx context.Context, memberNumber, authUserID string) (member.Member, error)
}

type seedPaymentStore interface {
	SaveYearly(ctx context.Context, y payment.YearlyPayment) error
	SaveEmergency(ctx context.Context, e payment.EmergencyCollection) error
}

// SeedInput carries the bootstrap credentials.
type SeedInput struct {
	AdminLogin    string
	AdminEmail    string
	AdminPassword string
	// Demo adds collectors, members and payments. Demo accounts share AdminPassword.
	Demo           bool
	YearlyFeePence int
}

// SeedResult counts what was created.
type SeedResult struct {
	Accounts int
	Members  int
}

type demoCollector struct {
	Login string
	Name  string
}

var demoCollectors = []demoCollector{
	{Login: "COL001", Name: "Anjum Riaz"},
	{Login: "COL002", Name: "Tariq Mahmood"},
	{Login: "COL003", Name: "Nasreen Akhtar"},
}

type demoMember struct {
	Number    string
	Name      string
	Town      string
	Collector string
	Login     bool // create a member account
	Paid      bool
}

var demoMembers = []demoMember{
	{Number: "TM10001", Name: "Imran Khan", Town: "Burton upon Trent", Collector: "Anjum Riaz", Login: true, Paid: true},
	{Number: "TM10002", Name: "Sana Iqbal", Town: "Burton upon Trent", Collector: "Anjum Riaz", Login: true},
	{Number: "TM10003", Name: "Bilal Ahmed", Town: "Swadlincote", Collector: "Anjum Riaz"},
	{Number: "TM10004", Name: "Farah Hussain", Town: "Derby", Collector: "Tariq Mahmood", Paid: true},
	{Number: "TM10005", Name: "Usman Ali", Town: "Derby", Collector: "Tariq Mahmood"},
	{Number: "TM10006", Name: "Ayesha Malik", Town: "Uttoxeter", Collector: "Nasreen Akhtar", Paid: true},
}

// ExecuteSeed creates the bootstrap admin and, optionally, demo data.
// It is idempotent: existing accounts and members are skipped.
// PRE: Database is migrated
// POST: Admin account exists; demo collectors and members exist when input.Demo
func ExecuteSeed(ctx context.Context, input SeedInput, deps SeedDeps) (SeedResult, error) {
	now := time.Now().UTC()
	if deps.Now != nil {
		now = deps.Now()
	}
	var result SeedResult

	created, err := seedAccount(ctx, deps.AccountStore, account.Account{
		Login: input.AdminLogin,
		Email: input.AdminEmail,
		Role:  account.RoleAdmin,
	}, input.AdminPassword, now)
	if err != nil {
		return result, err
	}
	if created {
		result.Accounts++
	}
	if !input.Demo {
		return result, nil
	}

	for _, c := range demoCollectors {
		created, err := seedAccount(ctx, deps.AccountStore, account.Account{
			Login:    c.Login,
			Role:     account.RoleCollector,
			Metadata: account.Metadata{CollectorName: c.Name, FullName: c.Name},
		}, input.AdminPassword, now)
		if err != nil {
			return result, err
		}
		if created {
			result.Accounts++
		}
	}

	for _, d := range demoMembers {
		if _, err := deps.MemberStore.FindForIdentity(ctx, d.Number, ""); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return result, fmt.Errorf("seed member %s: %w", d.Number, err)
		}

		m := member.Member{
			ID:             uuid.NewString(),
			MemberNumber:   d.Number,
			FullName:       d.Name,
			Town:           d.Town,
			Collector:      d.Collector,
			Status:         member.StatusActive,
			MembershipType: member.TypeStandard,
			CreatedAt:      now,
		}
		if d.Login {
			acctCreated, err := seedAccount(ctx, deps.AccountStore, account.Account{
				Login:    d.Number,
				Role:     account.RoleMember,
				Metadata: account.Metadata{MemberNumber: d.Number, FullName: d.Name},
			}, input.AdminPassword, now)
			if err != nil {
				return result, err
			}
			if acctCreated {
				result.Accounts++
			}
		}
		if err := m.Validate(); err != nil {
			return result, fmt.Errorf("seed member %s: %w", d.Number, err)
		}
		if err := deps.MemberStore.Save(ctx, m); err != nil {
			return result, fmt.Errorf("seed member %s: save: %w", d.Number, err)
		}
		result.Members++

		if deps.PaymentStore != nil {
			if err := seedPayments(ctx, deps.PaymentStore, m, d.Paid, input.YearlyFeePence, now); err != nil {
				return result, err
			}
		}
	}

	log.Info().Str("event", "demo_seeded").Int("accounts", result.Accounts).Int("members", result.Members).Msg("seed_event")
	return result, nil
}

func seedAccount(ctx context.Context, store seedAccountStore, acct account.Account, password string, now time.Time) (bool, error) {
	if _, err := store.GetByLogin(ctx, acct.Login); err == nil {
		return false, nil
	}
	acct.ID = uuid.NewString()
	acct.Status = account.StatusActive
	acct.CreatedAt = now
	if err := acct.Validate(); err != nil {
		return false, fmt.Errorf("seed account %s: %w", acct.Login, err)
	}
	if err := acct.SetPassword(password); err != nil {
		return false, fmt.Errorf("seed account %s: set password: %w", acct.Login, err)
	}
	if err := store.Save(ctx, acct); err != nil {
		return false, fmt.Errorf("seed account %s: save: %w", acct.Login, err)
	}
	log.Info().Str("event", "account_created").Str("login", acct.Login).Str("role", acct.Role).Msg("seed_event")
	return true, nil
}

func seedPayments(ctx context.Context, store seedPaymentStore, m member.Member, paid bool, feePence int, now time.Time) error {
	if feePence <= 0 {
		return nil
	}
	y := payment.DefaultYearly(m.ID, now.Year(), feePence)
	if paid {
		y.Status = payment.StatusPaid
		y.PaidAt = payment.DueDate(now.Year()).AddDate(0, 0, -14)
	}
	if err := store.SaveYearly(ctx, y); err != nil {
		return fmt.Errorf("seed payment %s: %w", m.MemberNumber, err)
	}
	e := payment.EmergencyCollection{
		MemberID:    m.ID,
		AmountPence: 2000,
		CollectedOn: time.Date(now.Year()-1, time.February, 15, 0, 0, 0, 0, time.UTC),
		Reason:      "Community Support Fund",
	}
	if err := store.SaveEmergency(ctx, e); err != nil {
		return fmt.Errorf("seed emergency collection %s: %w", m.MemberNumber, err)
	}
	return nil
}
