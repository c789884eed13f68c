package message

import (
	"context"
	"fmt"
	"time"

	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/store"
)

// Message is a stored chat message. Immutable once created except for the
// flagged bit.
type Message struct {
	ID        int64     `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Flagged   bool      `json:"is_flagged"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists messages.
type Store struct {
	q   store.Querier
	clk clock.Clock
}

// NewStore creates a message store over q.
func NewStore(q store.Querier, clk clock.Clock) *Store {
	return &Store{q: q, clk: clk}
}

// Create inserts a message for an active chat.
func (s *Store) Create(ctx context.Context, chatID int64, senderID, content string, flagged bool) (*Message, error) {
	now := s.clk.Now()
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, sender_guest_id, content, is_flagged, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING message_id`,
		chatID, senderID, content, flagged, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("message: create: %w", err)
	}

	return &Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Flagged:   flagged,
		CreatedAt: now,
	}, nil
}

// ListByChat returns up to limit messages for a chat, oldest first.
func (s *Store) ListByChat(ctx context.Context, chatID int64, limit int) ([]*Message, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT message_id, chat_id, sender_guest_id, content, is_flagged, created_at
		FROM messages WHERE chat_id = $1
		ORDER BY created_at ASC, message_id ASC
		LIMIT $2`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Flagged, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: list rows: %w", err)
	}
	return msgs, nil
}

// ListRecent returns the newest limit messages for a chat, oldest of those
// first. Used for the moderation snapshot attached to reports.
func (s *Store) ListRecent(ctx context.Context, chatID int64, limit int) ([]*Message, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT message_id, chat_id, sender_guest_id, content, is_flagged, created_at
		FROM (
			SELECT message_id, chat_id, sender_guest_id, content, is_flagged, created_at
			FROM messages WHERE chat_id = $1
			ORDER BY created_at DESC, message_id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, message_id ASC`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("message: list recent: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Flagged, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan recent: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: recent rows: %w", err)
	}
	return msgs, nil
}

// ListPage returns up to limit messages older than the cursor, newest first,
// plus whether more remain. A zero cursor starts from the newest message.
func (s *Store) ListPage(ctx context.Context, chatID int64, limit int, cursor time.Time) ([]*Message, bool, error) {
	if cursor.IsZero() {
		cursor = s.clk.Now().Add(time.Second)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT message_id, chat_id, sender_guest_id, content, is_flagged, created_at
		FROM messages WHERE chat_id = $1 AND created_at < $2
		ORDER BY created_at DESC, message_id DESC
		LIMIT $3`,
		chatID, cursor, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("message: list page: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.Flagged, &m.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("message: scan page: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("message: page rows: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return msgs, hasMore, nil
}
