// Package report handles abuse reports and the automatic ban that follows
// repeated reports against the same guest. Each report captures who reported
// whom, the chat context, and a snapshot of the last few messages exchanged,
// for moderator review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/store"
)

// Report statuses.
const (
	StatusPending   = "pending"
	StatusReviewing = "reviewing"
	StatusResolved  = "resolved"
)

// Report is one filed abuse report.
type Report struct {
	ID         int64
	ChatID     int64
	ReporterID string
	ReportedID string
	Reason     string
	Messages   []SnapshotEntry
	Status     string
	CreatedAt  time.Time
}

// SnapshotEntry is one message in the conversation snapshot attached to a
// report. Senders are anonymised to "reporter"/"reported".
type SnapshotEntry struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Store persists reports.
type Store struct {
	q   store.Querier
	clk clock.Clock
}

// NewStore creates a report store over q.
func NewStore(q store.Querier, clk clock.Clock) *Store {
	return &Store{q: q, clk: clk}
}

// Create inserts a report with pending status. The message snapshot is
// marshalled to JSONB.
func (s *Store) Create(ctx context.Context, chatID int64, reporterID, reportedID, reason string, snapshot []SnapshotEntry) (*Report, error) {
	var messagesJSON []byte
	if len(snapshot) > 0 {
		var err error
		messagesJSON, err = json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("report: marshal snapshot: %w", err)
		}
	}

	now := s.clk.Now()
	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO reports (chat_id, reporter_guest_id, reported_guest_id, reason, messages, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		RETURNING report_id`,
		chatID, reporterID, reportedID, reason, messagesJSON, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("report: insert: %w", err)
	}

	return &Report{
		ID:         id,
		ChatID:     chatID,
		ReporterID: reporterID,
		ReportedID: reportedID,
		Reason:     reason,
		Messages:   snapshot,
		Status:     StatusPending,
		CreatedAt:  now,
	}, nil
}

// GetByID fetches a report. Returns (nil, nil) if absent.
func (s *Store) GetByID(ctx context.Context, reportID int64) (*Report, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT report_id, chat_id, reporter_guest_id, reported_guest_id, reason, messages, status, created_at
		FROM reports WHERE report_id = $1`, reportID)

	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// CountAgainst returns the number of reports filed against a guest, across
// all reporters and chats.
func (s *Store) CountAgainst(ctx context.Context, reportedID string) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE reported_guest_id = $1`, reportedID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("report: count against: %w", err)
	}
	return n, nil
}

// ListByStatus returns reports with the given status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status string) ([]*Report, error) {
	return s.list(ctx, `
		SELECT report_id, chat_id, reporter_guest_id, reported_guest_id, reason, messages, status, created_at
		FROM reports WHERE status = $1 ORDER BY created_at ASC`, status)
}

// ListAll returns every report, newest first.
func (s *Store) ListAll(ctx context.Context) ([]*Report, error) {
	return s.list(ctx, `
		SELECT report_id, chat_id, reporter_guest_id, reported_guest_id, reason, messages, status, created_at
		FROM reports ORDER BY created_at DESC`)
}

// UpdateStatus moves a report through the review workflow.
func (s *Store) UpdateStatus(ctx context.Context, reportID int64, status string) (bool, error) {
	if status != StatusPending && status != StatusReviewing && status != StatusResolved {
		return false, fmt.Errorf("report: invalid status %q", status)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE reports SET status = $2 WHERE report_id = $1`, reportID, status)
	if err != nil {
		return false, fmt.Errorf("report: update status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*Report, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: list rows: %w", err)
	}
	return reports, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (*Report, error) {
	var (
		r            Report
		messagesJSON []byte
	)
	err := sc.Scan(&r.ID, &r.ChatID, &r.ReporterID, &r.ReportedID, &r.Reason,
		&messagesJSON, &r.Status, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("report: scan: %w", err)
	}
	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &r.Messages); err != nil {
			return nil, fmt.Errorf("report: unmarshal snapshot: %w", err)
		}
	}
	return &r, nil
}
