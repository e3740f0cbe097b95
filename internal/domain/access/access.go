// Package access derives what a signed-in identity may see and do.
package access

import (
	"errors"
	"strings"

	"welfare/internal/domain/account"
)

// ErrUnknownRole is returned when an identity carries a role this service does not grant.
var ErrUnknownRole = errors.New("unknown role")

// Access is the authorization view of a session.
type Access struct {
	Role          string
	CollectorName string
	MemberNumber  string
}

// Resolve builds Access from a role and the identity's metadata.
// PRE: none
// POST: Returns ErrUnknownRole for roles outside account.ValidRoles
func Resolve(role string, md account.Metadata) (Access, error) {
	switch role {
	case account.RoleAdmin, account.RoleCollector, account.RoleMember:
	default:
		return Access{}, ErrUnknownRole
	}
	return Access{
		Role:          role,
		CollectorName: strings.TrimSpace(md.CollectorName),
		MemberNumber:  md.MemberNumber,
	}, nil
}

// IsAdmin returns true for committee administrators.
func (a Access) IsAdmin() bool {
	return a.Role == account.RoleAdmin
}

// IsCollector returns true for collectors.
func (a Access) IsCollector() bool {
	return a.Role == account.RoleCollector
}

// CanViewMembers reports whether the member list is visible at all.
func (a Access) CanViewMembers() bool {
	return a.IsAdmin() || (a.IsCollector() && a.CollectorName != "")
}

// CanPrintCollector reports whether the report for collector may be generated.
// Admins may print any collector, collectors only their own. Names compare
// exactly, the same way the member store filters by collector.
func (a Access) CanPrintCollector(collector string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.IsCollector() && a.CollectorName != "" && a.CollectorName == strings.TrimSpace(collector)
}

// CanPrintAll reports whether the all-collectors archive may be generated.
func (a Access) CanPrintAll() bool {
	return a.IsAdmin()
}

// CollectorScope returns the collector the member list is restricted to, or "" for all.
func (a Access) CollectorScope() string {
	if a.IsAdmin() {
		return ""
	}
	return a.CollectorName
}
