package message

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/events"
	"github.com/tutorlink/chat-app/internal/metrics"
)

// MaxContentChars bounds sanitized message length in characters.
const MaxContentChars = 1000

var (
	// ErrChatUnavailable collapses "chat not found", "not a participant",
	// and "chat ended" so callers cannot probe which chats exist.
	ErrChatUnavailable = errors.New("message: chat not found")

	// ErrEmptyContent means the message was empty after sanitization.
	ErrEmptyContent = errors.New("message: content is empty")

	// ErrContentTooLong means the sanitized content exceeds MaxContentChars.
	ErrContentTooLong = fmt.Errorf("message: content exceeds %d characters", MaxContentChars)
)

// Pipeline validates, sanitizes, flags, and stores messages for active chats.
type Pipeline struct {
	chats    *chat.Store
	messages *Store
	detector *Detector
	pub      events.Publisher
}

// NewPipeline wires the message pipeline.
func NewPipeline(chats *chat.Store, messages *Store, detector *Detector, pub events.Publisher) *Pipeline {
	return &Pipeline{chats: chats, messages: messages, detector: detector, pub: pub}
}

// Send stores one message in an active chat after sanitizing it. A personal
// information match sets the flagged bit but never blocks storage or
// delivery; flagging feeds moderation review, not prevention.
//
// The active-status check is a point-in-time read: a message racing a
// 1ms-later endChat is accepted, which is an allowed race, not a bug.
func (p *Pipeline) Send(ctx context.Context, chatID int64, senderID, content string) (*Message, error) {
	ch, err := p.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if ch == nil || !ch.Participant(senderID) || !ch.Active() {
		return nil, ErrChatUnavailable
	}

	sanitized := Sanitize(content)
	if sanitized == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(sanitized) > MaxContentChars {
		return nil, ErrContentTooLong
	}

	flagged := p.detector.Flagged(sanitized)

	msg, err := p.messages.Create(ctx, chatID, senderID, sanitized, flagged)
	if err != nil {
		return nil, err
	}

	// Activity keeps the chat out of the idle sweep.
	if err := p.chats.Touch(ctx, chatID); err != nil {
		log.Printf("[messages] touch chat=%d: %v", chatID, err)
	}

	state := "clean"
	if flagged {
		state = "flagged"
		log.Printf("[messages] flagged message=%d chat=%d sender=%s", msg.ID, chatID, senderID)
	}
	metrics.MessagesTotal.WithLabelValues(state).Inc()

	if err := p.pub.MessageSent(events.MessageSentEvent{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Flagged:   msg.Flagged,
		CreatedAt: msg.CreatedAt,
	}); err != nil {
		log.Printf("[messages] publish message=%d: %v", msg.ID, err)
	}

	return msg, nil
}

// Typing relays a typing indicator for an active chat. Nothing is stored.
func (p *Pipeline) Typing(ctx context.Context, chatID int64, guestID string, isTyping bool) error {
	ch, err := p.chats.GetByID(ctx, chatID)
	if err != nil {
		return err
	}
	if ch == nil || !ch.Participant(guestID) || !ch.Active() {
		return ErrChatUnavailable
	}
	return p.pub.Typing(events.TypingEvent{ChatID: chatID, GuestID: guestID, IsTyping: isTyping})
}

// HistoryEntry is one message as shown to a participant, with the sender
// reduced to "you" or "partner" so ids never leak across the pair.
type HistoryEntry struct {
	MessageID int64     `json:"message_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Flagged   bool      `json:"is_flagged"`
	CreatedAt time.Time `json:"created_at"`
}

// History returns up to limit messages of a chat for one of its
// participants, oldest first.
func (p *Pipeline) History(ctx context.Context, chatID int64, guestID string, limit int) ([]HistoryEntry, error) {
	ch, err := p.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if ch == nil || !ch.Participant(guestID) {
		return nil, ErrChatUnavailable
	}

	msgs, err := p.messages.ListByChat(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}
	return toHistory(msgs, guestID), nil
}

// HistoryPage returns a page of messages older than cursor, oldest first
// within the page, plus the cursor for the next page.
func (p *Pipeline) HistoryPage(ctx context.Context, chatID int64, guestID string, limit int, cursor time.Time) ([]HistoryEntry, time.Time, bool, error) {
	ch, err := p.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if ch == nil || !ch.Participant(guestID) {
		return nil, time.Time{}, false, ErrChatUnavailable
	}

	msgs, hasMore, err := p.messages.ListPage(ctx, chatID, limit, cursor)
	if err != nil {
		return nil, time.Time{}, false, err
	}

	var next time.Time
	if hasMore && len(msgs) > 0 {
		next = msgs[len(msgs)-1].CreatedAt
	}

	// ListPage returns newest first; present oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return toHistory(msgs, guestID), next, hasMore, nil
}

func toHistory(msgs []*Message, viewerID string) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		sender := "partner"
		if m.SenderID == viewerID {
			sender = "you"
		}
		entries = append(entries, HistoryEntry{
			MessageID: m.ID,
			Sender:    sender,
			Content:   m.Content,
			Flagged:   m.Flagged,
			CreatedAt: m.CreatedAt,
		})
	}
	return entries
}
