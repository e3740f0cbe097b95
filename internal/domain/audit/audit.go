package audit

import (
	"time"

	"github.com/google/uuid"
)

// Category groups audit events by the area they concern.
type Category string

const (
	CategoryAuth    Category = "auth"
	CategoryMember  Category = "member"
	CategoryReport  Category = "report"
	CategorySystem  Category = "system"
	CategoryPayment Category = "payment"
)

// Action is what happened.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLoginFailed    Action = "login_failed"
	ActionLogout         Action = "logout"
	ActionPasswordChange Action = "password_change"
	ActionSessionExpired Action = "session_expired"
	ActionRefresh        Action = "token_refresh"
	ActionView           Action = "view"
	ActionPrint          Action = "print"
	ActionEmail          Action = "email"
	ActionPurge          Action = "purge"
)

// Severity of an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// Event is a single audit log entry.
type Event struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Category     Category  `json:"category"`
	Action       Action    `json:"action"`
	Severity     Severity  `json:"severity"`
	ActorID      string    `json:"actor_id"`
	ActorLogin   string    `json:"actor_login"`
	ActorRole    string    `json:"actor_role"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Description  string    `json:"description"`
	IPAddress    string    `json:"ip_address"`
}

// NewEvent creates an info-level audit event stamped with now.
// PRE: category and action are non-empty
// POST: Returns an Event with a fresh ID
func NewEvent(actorID, actorLogin, actorRole string, category Category, action Action, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Category:   category,
		Action:     action,
		Severity:   SeverityInfo,
		ActorID:    actorID,
		ActorLogin: actorLogin,
		ActorRole:  actorRole,
	}
}

// WithSeverity sets the severity level.
func (e Event) WithSeverity(s Severity) Event {
	e.Severity = s
	return e
}

// WithResource sets the resource the event is about.
func (e Event) WithResource(resourceType, resourceID string) Event {
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	return e
}

// WithDescription sets the event description.
func (e Event) WithDescription(desc string) Event {
	e.Description = desc
	return e
}

// WithIP records the client address.
func (e Event) WithIP(ip string) Event {
	e.IPAddress = ip
	return e
}
