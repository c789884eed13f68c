// Package guest manages anonymous participant records: identity, lifecycle
// status, matching attributes, and bans. A guest exists only for the lifetime
// of its session; expired rows are ignored by all checks and reaped lazily.
package guest

import "time"

// Status values for the guest state machine.
const (
	StatusIdle    = "idle"
	StatusWaiting = "waiting"
	StatusActive  = "active"
	StatusBanned  = "banned"
)

// Role values. A guest may also leave its role unset.
const (
	RoleTutor   = "tutor"
	RoleLearner = "learner"
)

// SubjectAny is the wildcard subject that matches any other subject.
const SubjectAny = "any"

// Attrs are the matching attributes a guest declares when opting in.
// Availability holds hours of day (0-23).
type Attrs struct {
	Role         string
	Subject      string
	Availability []int
}

// Guest is a participant record.
type Guest struct {
	ID           string
	SessionToken string
	Status       string
	Role         string
	Subject      string
	Availability []int
	ExpiresAt    time.Time // zero means no expiry set
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Banned reports whether the guest is banned.
func (g *Guest) Banned() bool { return g.Status == StatusBanned }

// Expired reports whether the guest's session expiry has passed at now.
func (g *Guest) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !g.ExpiresAt.After(now)
}

// Attrs returns the guest's matching attributes.
func (g *Guest) Attrs() Attrs {
	return Attrs{Role: g.Role, Subject: g.Subject, Availability: g.Availability}
}
