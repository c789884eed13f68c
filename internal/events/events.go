// Package events is the notification output port of the chat core. Components
// enqueue named events here after their transactions commit; delivery to
// connected clients is the transport layer's problem. Publishing is
// fire-and-forget: a failed publish is logged by the caller, never propagated
// into an operation's result.
package events

import "time"

// Publisher is implemented by anything that can fan out lifecycle events.
type Publisher interface {
	Matched(e MatchedEvent) error
	ChatEnded(e ChatEndedEvent) error
	MessageSent(e MessageSentEvent) error
	Typing(e TypingEvent) error
	UserReported(e UserReportedEvent) error
}

// MatchedEvent tells both guests a chat formed.
type MatchedEvent struct {
	ChatID int64  `json:"chat_id"`
	Guest1 string `json:"guest_id_1"`
	Guest2 string `json:"guest_id_2"`
}

// ChatEndedEvent tells both guests their chat is over.
type ChatEndedEvent struct {
	ChatID  int64  `json:"chat_id"`
	EndedBy string `json:"ended_by"`
	Guest1  string `json:"guest_id_1"`
	Guest2  string `json:"guest_id_2"`
}

// MessageSentEvent carries a stored message to the chat's subscribers.
type MessageSentEvent struct {
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Flagged   bool      `json:"is_flagged"`
	CreatedAt time.Time `json:"created_at"`
}

// TypingEvent is a transient typing indicator.
type TypingEvent struct {
	ChatID   int64  `json:"chat_id"`
	GuestID  string `json:"guest_id"`
	IsTyping bool   `json:"is_typing"`
}

// UserReportedEvent announces a filed abuse report to moderation consumers.
type UserReportedEvent struct {
	ReportID   int64  `json:"report_id"`
	ChatID     int64  `json:"chat_id"`
	ReportedID string `json:"reported_id"`
}

// Discard is a Publisher that drops every event. Useful where no broker is
// wired, e.g. the migration binary or offline tooling.
type Discard struct{}

func (Discard) Matched(MatchedEvent) error           { return nil }
func (Discard) ChatEnded(ChatEndedEvent) error       { return nil }
func (Discard) MessageSent(MessageSentEvent) error   { return nil }
func (Discard) Typing(TypingEvent) error             { return nil }
func (Discard) UserReported(UserReportedEvent) error { return nil }
