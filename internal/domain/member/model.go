package member

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength         = 100
	MaxMemberNumberLength = 20
)

// Membership status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Membership types.
const (
	TypeStandard = "standard"
	TypeFamily   = "family"
	TypeSenior   = "senior"
)

// Domain errors
var (
	ErrEmptyMemberNumber = errors.New("member number cannot be empty")
	ErrEmptyName         = errors.New("member name cannot be empty")
	ErrEmptyCollector    = errors.New("collector cannot be empty")
	ErrInvalidEmail      = errors.New("member email must be valid")
	ErrInvalidStatus     = errors.New("status must be 'active' or 'inactive'")
	ErrInvalidType       = errors.New("membership type must be 'standard', 'family' or 'senior'")
	ErrMemberNumberLong  = errors.New("member number cannot exceed 20 characters")
	ErrNameLong          = errors.New("member name cannot exceed 100 characters")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// Member is a membership record keyed by its member number.
type Member struct {
	ID             string
	MemberNumber   string `validate:"notblank,max=20"`
	FullName       string `validate:"notblank,max=100"`
	Email          string `validate:"omitempty,email"`
	Phone          string
	Address        string
	Town           string
	Postcode       string
	Collector      string `validate:"notblank"`
	AuthUserID     string // empty when no login is linked
	Status         string `validate:"oneof=active inactive"`
	MembershipType string `validate:"omitempty,oneof=standard family senior"`
	CreatedAt      time.Time
}

// Validate checks if the Member has valid data.
// PRE: Member struct is initialized
// POST: Returns error if validation fails, nil otherwise
// INVARIANT: MemberNumber, FullName and Collector are non-empty
func (m *Member) Validate() error {
	err := validate.Struct(m)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	fe := fields[0]
	switch fe.StructField() {
	case "MemberNumber":
		if fe.Tag() == "max" {
			return ErrMemberNumberLong
		}
		return ErrEmptyMemberNumber
	case "FullName":
		if fe.Tag() == "max" {
			return ErrNameLong
		}
		return ErrEmptyName
	case "Email":
		return ErrInvalidEmail
	case "Collector":
		return ErrEmptyCollector
	case "Status":
		return ErrInvalidStatus
	case "MembershipType":
		return ErrInvalidType
	}
	return fe
}

// IsActive returns true if the membership is active.
// INVARIANT: Status field is not mutated
func (m *Member) IsActive() bool {
	return m.Status == StatusActive
}

// LinkedTo reports whether the member belongs to the given auth identity,
// either through the member number in the user's metadata or the auth user id.
func (m *Member) LinkedTo(memberNumber, authUserID string) bool {
	if memberNumber != "" && m.MemberNumber == memberNumber {
		return true
	}
	return authUserID != "" && m.AuthUserID == authUserID
}

// ContactLine joins phone and email for compact listings.
func (m *Member) ContactLine() string {
	parts := make([]string, 0, 2)
	if m.Phone != "" {
		parts = append(parts, m.Phone)
	}
	if m.Email != "" {
		parts = append(parts, m.Email)
	}
	return strings.Join(parts, " / ")
}

// AddressLine joins the postal address parts that are present.
func (m *Member) AddressLine() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{m.Address, m.Town, m.Postcode} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}
