// Package chat persists chat records: who is paired with whom, whether the
// chat is live, and the audit trail of how it ended. Rows are never deleted;
// ended chats stay for report linkage.
package chat

import "time"

// Status values for a chat.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Chat is a pairing of exactly two guests.
type Chat struct {
	ID             int64
	Guest1         string
	Guest2         string
	Status         string
	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        time.Time // zero until the chat ends
	EndedBy        string    // empty until the chat ends
}

// Active reports whether the chat is still live.
func (c *Chat) Active() bool {
	return c.Status == StatusActive && c.EndedAt.IsZero()
}

// Participant reports whether guestID is one of the chat's two parties.
func (c *Chat) Participant(guestID string) bool {
	return guestID == c.Guest1 || guestID == c.Guest2
}

// Partner returns the other participant's id, or "" if guestID is not a
// participant.
func (c *Chat) Partner(guestID string) string {
	switch guestID {
	case c.Guest1:
		return c.Guest2
	case c.Guest2:
		return c.Guest1
	}
	return ""
}
