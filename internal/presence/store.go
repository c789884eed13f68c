// Package presence tracks ephemeral online/waiting state for guests. Every
// entry carries a TTL reset on each heartbeat or state change; an entry whose
// expiry has passed is treated as absent by every read, whether or not the
// reaper has removed the row yet.
package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/guest"
	"github.com/tutorlink/chat-app/internal/store"
)

// DefaultTTL is how long a presence entry stays fresh without a heartbeat.
const DefaultTTL = 300 * time.Second

// Entry is one guest's presence row, including a copy of the matching
// attributes so pool scans do not join against the guests table.
type Entry struct {
	GuestID      string
	Online       bool
	Waiting      bool
	Role         string
	Subject      string
	Availability []int
	LastSeenAt   time.Time
	ExpiresAt    time.Time
}

// Attrs returns the entry's matching attributes.
func (e *Entry) Attrs() guest.Attrs {
	return guest.Attrs{Role: e.Role, Subject: e.Subject, Availability: e.Availability}
}

// Store reads and writes presence rows. It fires no events; lifecycle layers
// above decide what to broadcast.
type Store struct {
	q   store.Querier
	clk clock.Clock
	ttl time.Duration
}

// NewStore creates a presence store over q with the given entry TTL.
// A ttl of zero falls back to DefaultTTL.
func NewStore(q store.Querier, clk clock.Clock, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{q: q, clk: clk, ttl: ttl}
}

// WithQuerier returns a copy of the store bound to q, typically a *sql.Tx.
func (s *Store) WithQuerier(q store.Querier) *Store {
	return &Store{q: q, clk: s.clk, ttl: s.ttl}
}

// MarkOnline upserts the guest as online and refreshes the TTL.
func (s *Store) MarkOnline(ctx context.Context, guestID string) error {
	now := s.clk.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO presence (guest_id, is_online, last_seen_at, expires_at)
		VALUES ($1, TRUE, $2, $3)
		ON CONFLICT (guest_id) DO UPDATE
		SET is_online = TRUE, last_seen_at = $2, expires_at = $3`,
		guestID, now, now.Add(s.ttl))
	if err != nil {
		return fmt.Errorf("presence: mark online: %w", err)
	}
	return nil
}

// MarkOffline clears both the online and waiting flags. Waiting implies
// online, so going offline always leaves the pool too.
func (s *Store) MarkOffline(ctx context.Context, guestID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE presence SET is_online = FALSE, is_waiting = FALSE WHERE guest_id = $1`,
		guestID)
	if err != nil {
		return fmt.Errorf("presence: mark offline: %w", err)
	}
	return nil
}

// AddToWaitingPool upserts the guest as online+waiting with the given
// matching attributes and refreshes the TTL.
func (s *Store) AddToWaitingPool(ctx context.Context, guestID string, attrs guest.Attrs) error {
	now := s.clk.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO presence (guest_id, is_online, is_waiting, role, subject, availability, last_seen_at, expires_at)
		VALUES ($1, TRUE, TRUE, $2, $3, $4, $5, $6)
		ON CONFLICT (guest_id) DO UPDATE
		SET is_online = TRUE, is_waiting = TRUE, role = $2, subject = $3,
		    availability = $4, last_seen_at = $5, expires_at = $6`,
		guestID, nullString(attrs.Role), nullString(attrs.Subject),
		availabilityArray(attrs.Availability), now, now.Add(s.ttl))
	if err != nil {
		return fmt.Errorf("presence: add to waiting pool: %w", err)
	}
	return nil
}

// RemoveFromWaitingPool clears the waiting flag without touching online state.
func (s *Store) RemoveFromWaitingPool(ctx context.Context, guestID string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE presence SET is_waiting = FALSE WHERE guest_id = $1`, guestID)
	if err != nil {
		return fmt.Errorf("presence: remove from waiting pool: %w", err)
	}
	return nil
}

// IsOnline reports whether the guest has a fresh online entry.
func (s *Store) IsOnline(ctx context.Context, guestID string) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM presence WHERE guest_id = $1 AND is_online AND expires_at > $2`,
		guestID, s.clk.Now())
}

// IsWaiting reports whether the guest has a fresh online+waiting entry.
func (s *Store) IsWaiting(ctx context.Context, guestID string) (bool, error) {
	return s.exists(ctx,
		`SELECT 1 FROM presence WHERE guest_id = $1 AND is_waiting AND is_online AND expires_at > $2`,
		guestID, s.clk.Now())
}

// Refresh bumps last_seen_at and pushes the expiry out by the TTL.
func (s *Store) Refresh(ctx context.Context, guestID string) error {
	now := s.clk.Now()
	_, err := s.q.ExecContext(ctx,
		`UPDATE presence SET last_seen_at = $2, expires_at = $3 WHERE guest_id = $1`,
		guestID, now, now.Add(s.ttl))
	if err != nil {
		return fmt.Errorf("presence: refresh: %w", err)
	}
	return nil
}

// CountWaiting returns the number of fresh waiting entries.
func (s *Store) CountWaiting(ctx context.Context) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM presence WHERE is_waiting AND is_online AND expires_at > $1`)
}

// CountOnline returns the number of fresh online entries.
func (s *Store) CountOnline(ctx context.Context) (int, error) {
	return s.count(ctx,
		`SELECT COUNT(*) FROM presence WHERE is_online AND expires_at > $1`)
}

// WaitingForUpdate returns all fresh waiting entries except exclude, oldest
// last_seen_at first, locking the rows for the enclosing transaction. Callers
// must be inside a transaction; the lock scope is what keeps two concurrent
// matchers from claiming the same candidate.
func (s *Store) WaitingForUpdate(ctx context.Context, excludeGuestID string) ([]Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT guest_id, is_online, is_waiting, role, subject, availability, last_seen_at, expires_at
		FROM presence
		WHERE is_waiting AND is_online AND expires_at > $1 AND guest_id <> $2
		ORDER BY last_seen_at ASC
		FOR UPDATE`,
		s.clk.Now(), excludeGuestID)
	if err != nil {
		return nil, fmt.Errorf("presence: waiting for update: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e            Entry
			role         sql.NullString
			subject      sql.NullString
			availability pq.Int64Array
		)
		if err := rows.Scan(&e.GuestID, &e.Online, &e.Waiting, &role, &subject,
			&availability, &e.LastSeenAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("presence: scan waiting: %w", err)
		}
		e.Role = role.String
		e.Subject = subject.String
		e.Availability = toInts(availability)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("presence: waiting rows: %w", err)
	}
	return entries, nil
}

// Lock takes row locks on the given presence entries for the enclosing
// transaction, serializing chat creation attempts that share a participant.
func (s *Store) Lock(ctx context.Context, guestIDs ...string) error {
	rows, err := s.q.QueryContext(ctx,
		`SELECT guest_id FROM presence WHERE guest_id = ANY($1) ORDER BY guest_id FOR UPDATE`,
		pq.Array(guestIDs))
	if err != nil {
		return fmt.Errorf("presence: lock: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// ReapExpired deletes entries past their expiry, using the same predicate the
// read paths use, and returns how many rows were removed.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM presence WHERE expires_at <= $1`, s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("presence: reap expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("presence: exists: %w", err)
	}
	return true, nil
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, query, s.clk.Now()).Scan(&n); err != nil {
		return 0, fmt.Errorf("presence: count: %w", err)
	}
	return n, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func availabilityArray(hours []int) pq.Int64Array {
	if len(hours) == 0 {
		return nil
	}
	arr := make(pq.Int64Array, len(hours))
	for i, h := range hours {
		arr[i] = int64(h)
	}
	return arr
}

func toInts(arr pq.Int64Array) []int {
	if len(arr) == 0 {
		return nil
	}
	out := make([]int, len(arr))
	for i, v := range arr {
		out[i] = int(v)
	}
	return out
}
