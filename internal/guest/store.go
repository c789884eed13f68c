package guest

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/store"
)

// ErrNotFound is returned when no guest matches the lookup.
var ErrNotFound = errors.New("guest: not found")

const guestColumns = `guest_id, session_token, status, role, subject, availability, expires_at, created_at, updated_at`

// Store is the participant registry backed by the guests table.
type Store struct {
	q   store.Querier
	clk clock.Clock
}

// NewStore creates a registry over q. Pass a *sql.Tx as q to run lookups and
// updates inside an enclosing transaction.
func NewStore(q store.Querier, clk clock.Clock) *Store {
	return &Store{q: q, clk: clk}
}

// Create inserts a new guest with a fresh id and session token.
// sessionTTL bounds the session lifetime; zero means no expiry.
func (s *Store) Create(ctx context.Context, attrs Attrs, sessionTTL time.Duration) (*Guest, error) {
	id := uuid.New().String()

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	var expiresAt sql.NullTime
	if sessionTTL > 0 {
		expiresAt = sql.NullTime{Time: now.Add(sessionTTL), Valid: true}
	}

	const query = `
		INSERT INTO guests (guest_id, session_token, status, role, subject, availability, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err = s.q.ExecContext(ctx, query,
		id, token, StatusIdle,
		nullString(attrs.Role), nullString(attrs.Subject), availabilityArray(attrs.Availability),
		expiresAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("guest: create: %w", err)
	}

	g := &Guest{
		ID:           id,
		SessionToken: token,
		Status:       StatusIdle,
		Role:         attrs.Role,
		Subject:      attrs.Subject,
		Availability: attrs.Availability,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if expiresAt.Valid {
		g.ExpiresAt = expiresAt.Time
	}
	return g, nil
}

// GetByID fetches a guest by id. Returns ErrNotFound if absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Guest, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+guestColumns+` FROM guests WHERE guest_id = $1`, id)
	return scanGuest(row)
}

// GetByToken fetches a guest by its opaque session token.
func (s *Store) GetByToken(ctx context.Context, token string) (*Guest, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+guestColumns+` FROM guests WHERE session_token = $1`, token)
	return scanGuest(row)
}

// UpdateStatus moves a guest to the given non-banned status. Banned guests
// never leave banned through this path; use Unban.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	if status == StatusBanned {
		return fmt.Errorf("guest: use Ban to ban %s", id)
	}
	_, err := s.q.ExecContext(ctx,
		`UPDATE guests SET status = $2, updated_at = $3 WHERE guest_id = $1 AND status <> 'banned'`,
		id, status, s.clk.Now())
	if err != nil {
		return fmt.Errorf("guest: update status: %w", err)
	}
	return nil
}

// SetAttrs stores the guest's matching attributes.
func (s *Store) SetAttrs(ctx context.Context, id string, attrs Attrs) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE guests SET role = $2, subject = $3, availability = $4, updated_at = $5 WHERE guest_id = $1`,
		id, nullString(attrs.Role), nullString(attrs.Subject), availabilityArray(attrs.Availability), s.clk.Now())
	if err != nil {
		return fmt.Errorf("guest: set attrs: %w", err)
	}
	return nil
}

// Ban transitions a guest to banned. The ban is permanent until Unban.
func (s *Store) Ban(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE guests SET status = 'banned', updated_at = $2 WHERE guest_id = $1`,
		id, s.clk.Now())
	if err != nil {
		return fmt.Errorf("guest: ban: %w", err)
	}
	return nil
}

// Unban lifts a ban, returning the guest to idle.
func (s *Store) Unban(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE guests SET status = 'idle', updated_at = $2 WHERE guest_id = $1 AND status = 'banned'`,
		id, s.clk.Now())
	if err != nil {
		return fmt.Errorf("guest: unban: %w", err)
	}
	return nil
}

// RefreshExpiry pushes the session expiry sessionTTL past now.
func (s *Store) RefreshExpiry(ctx context.Context, id string, sessionTTL time.Duration) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE guests SET expires_at = $2, updated_at = $3 WHERE guest_id = $1`,
		id, s.clk.Now().Add(sessionTTL), s.clk.Now())
	if err != nil {
		return fmt.Errorf("guest: refresh expiry: %w", err)
	}
	return nil
}

// ReapExpired deletes guests whose sessions expired before now.
// Chats and reports reference guests for audit, so only rows without
// history are removed; the rest stay and are simply unusable.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM guests g
		WHERE g.expires_at IS NOT NULL AND g.expires_at <= $1
		  AND NOT EXISTS (SELECT 1 FROM chats c WHERE c.guest_id_1 = g.guest_id OR c.guest_id_2 = g.guest_id)
		  AND NOT EXISTS (SELECT 1 FROM reports r WHERE r.reporter_guest_id = g.guest_id OR r.reported_guest_id = g.guest_id)`,
		s.clk.Now())
	if err != nil {
		return 0, fmt.Errorf("guest: reap expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanGuest(row *sql.Row) (*Guest, error) {
	var (
		g            Guest
		role         sql.NullString
		subject      sql.NullString
		availability pq.Int64Array
		expiresAt    sql.NullTime
	)
	err := row.Scan(&g.ID, &g.SessionToken, &g.Status, &role, &subject, &availability,
		&expiresAt, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("guest: scan: %w", err)
	}
	g.Role = role.String
	g.Subject = subject.String
	g.Availability = toInts(availability)
	if expiresAt.Valid {
		g.ExpiresAt = expiresAt.Time
	}
	return &g, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("guest: session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
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
