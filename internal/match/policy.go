// Package match pairs waiting guests into chats. The engine runs its pool
// scan and chat creation inside row-locked transactions so many stateless
// request handlers can match concurrently without double-pairing anyone.
package match

import (
	"strings"

	"github.com/tutorlink/chat-app/internal/guest"
)

// Policy is the compatibility predicate applied to each candidate during a
// pool scan. The zero value matches the historical "any role" behavior;
// DefaultPolicy enables opposite-role pairing.
type Policy struct {
	// RequireOppositeRoles pairs tutors with learners when both sides
	// declare a role. A side with no role is never constrained.
	RequireOppositeRoles bool
}

// DefaultPolicy pairs opposite roles and treats missing attributes as
// wildcards.
func DefaultPolicy() Policy {
	return Policy{RequireOppositeRoles: true}
}

// Compatible reports whether two guests may be paired.
//
// Roles must be opposite (tutor vs learner) when the policy requires it and
// both sides declare one. Subjects match case-insensitively, with "any" or an
// empty subject matching everything. Availability requires a non-empty
// hour-of-day intersection, but only when both sides supply a set; absence of
// overlap is a hard skip, not a deprioritization.
func (p Policy) Compatible(a, b guest.Attrs) bool {
	if p.RequireOppositeRoles && a.Role != "" && b.Role != "" && a.Role == b.Role {
		return false
	}
	if !subjectsMatch(a.Subject, b.Subject) {
		return false
	}
	if len(a.Availability) > 0 && len(b.Availability) > 0 && !hoursOverlap(a.Availability, b.Availability) {
		return false
	}
	return true
}

func subjectsMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" || a == guest.SubjectAny || b == guest.SubjectAny {
		return true
	}
	return a == b
}

func hoursOverlap(a, b []int) bool {
	set := make(map[int]bool, len(a))
	for _, h := range a {
		set[h] = true
	}
	for _, h := range b {
		if set[h] {
			return true
		}
	}
	return false
}
