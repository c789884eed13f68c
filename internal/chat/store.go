package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/store"
)

const chatColumns = `chat_id, guest_id_1, guest_id_2, status, started_at, last_activity_at, ended_at, ended_by`

// Store manages chat rows.
type Store struct {
	q   store.Querier
	clk clock.Clock
}

// NewStore creates a chat store over q.
func NewStore(q store.Querier, clk clock.Clock) *Store {
	return &Store{q: q, clk: clk}
}

// WithQuerier returns a copy of the store bound to q, typically a *sql.Tx.
func (s *Store) WithQuerier(q store.Querier) *Store {
	return &Store{q: q, clk: s.clk}
}

// Create inserts an active chat between two distinct guests.
func (s *Store) Create(ctx context.Context, guest1, guest2 string) (*Chat, error) {
	if guest1 == guest2 {
		return nil, fmt.Errorf("chat: refusing self-chat for %s", guest1)
	}

	now := s.clk.Now()
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO chats (guest_id_1, guest_id_2, status, started_at, last_activity_at)
		VALUES ($1, $2, 'active', $3, $3)
		RETURNING chat_id`,
		guest1, guest2, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("chat: create: %w", err)
	}

	return &Chat{
		ID:             id,
		Guest1:         guest1,
		Guest2:         guest2,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}, nil
}

// Touch bumps the activity timestamp of an active chat. No-op for ended chats.
func (s *Store) Touch(ctx context.Context, chatID int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE chats SET last_activity_at = $2 WHERE chat_id = $1 AND status = 'active'`,
		chatID, s.clk.Now())
	if err != nil {
		return fmt.Errorf("chat: touch: %w", err)
	}
	return nil
}

// GetByID fetches a chat. Returns (nil, nil) if absent.
func (s *Store) GetByID(ctx context.Context, chatID int64) (*Chat, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE chat_id = $1`, chatID)
	return scanChat(row)
}

// GetByIDForUpdate fetches a chat with a row lock held for the enclosing
// transaction.
func (s *Store) GetByIDForUpdate(ctx context.Context, chatID int64) (*Chat, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE chat_id = $1 FOR UPDATE`, chatID)
	return scanChat(row)
}

// FindActiveByGuest returns the guest's active chat, or (nil, nil) if there
// is none.
func (s *Store) FindActiveByGuest(ctx context.Context, guestID string) (*Chat, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE status = 'active' AND (guest_id_1 = $1 OR guest_id_2 = $1)
		LIMIT 1`,
		guestID)
	return scanChat(row)
}

// End flips the chat to ended and stamps the audit fields. Returns false
// without mutation when the chat is already ended, so ended_at is written
// exactly once.
func (s *Store) End(ctx context.Context, chatID int64, endedBy string) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE chats SET status = 'ended', ended_at = $2, ended_by = $3
		WHERE chat_id = $1 AND status = 'active'`,
		chatID, s.clk.Now(), endedBy)
	if err != nil {
		return false, fmt.Errorf("chat: end: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListActive returns all active chats, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]*Chat, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE status = 'active' ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("chat: list active: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		c, err := scanChatRow(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: list rows: %w", err)
	}
	return chats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row *sql.Row) (*Chat, error) {
	c, err := scanChatRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func scanChatRow(sc scanner) (*Chat, error) {
	var (
		c       Chat
		endedAt sql.NullTime
		endedBy sql.NullString
	)
	err := sc.Scan(&c.ID, &c.Guest1, &c.Guest2, &c.Status, &c.StartedAt, &c.LastActivityAt, &endedAt, &endedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("chat: scan: %w", err)
	}
	if endedAt.Valid {
		c.EndedAt = endedAt.Time
	}
	c.EndedBy = endedBy.String
	return &c, nil
}
