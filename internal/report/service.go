package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/events"
	"github.com/tutorlink/chat-app/internal/guest"
	"github.com/tutorlink/chat-app/internal/message"
	"github.com/tutorlink/chat-app/internal/metrics"
)

// Reason length bounds in characters.
const (
	MinReasonChars = 10
	MaxReasonChars = 500
)

// DefaultBanThreshold is the report count that triggers an automatic ban.
const DefaultBanThreshold = 3

// SnapshotMessages is how many recent messages are attached to a report.
const SnapshotMessages = 5

var (
	// ErrChatUnavailable collapses missing chat and non-participant reporter.
	ErrChatUnavailable = errors.New("report: chat not found")

	// ErrInvalidReason means the reason text is out of bounds.
	ErrInvalidReason = fmt.Errorf("report: reason must be %d-%d characters", MinReasonChars, MaxReasonChars)
)

// CreateResult is the outcome of filing a report.
type CreateResult struct {
	ReportID   int64  `json:"report_id"`
	Status     string `json:"status"`
	AutoBanned bool   `json:"auto_banned"`
}

// ProcessJob is the payload of the async re-check published over the broker
// after each report.
type ProcessJob struct {
	ReportID int64 `json:"report_id"`
}

// JobPublisher enqueues async report processing jobs.
type JobPublisher interface {
	PublishReportProcess(data []byte) error
}

// Service files reports and applies the auto-ban policy.
type Service struct {
	reports   *Store
	chats     *chat.Store
	guests    *guest.Store
	messages  *message.Store
	pub       events.Publisher
	jobs      JobPublisher
	threshold int
}

// NewService wires the report aggregator. jobs may be nil, in which case the
// async re-check is skipped and only the synchronous count applies.
func NewService(reports *Store, chats *chat.Store, guests *guest.Store, messages *message.Store,
	pub events.Publisher, jobs JobPublisher, threshold int) *Service {
	if threshold <= 0 {
		threshold = DefaultBanThreshold
	}
	return &Service{
		reports:   reports,
		chats:     chats,
		guests:    guests,
		messages:  messages,
		pub:       pub,
		jobs:      jobs,
		threshold: threshold,
	}
}

// Create files a report against the reporter's chat partner. The reported
// guest is always derived from the chat pair, never taken from the caller.
// Reaching the report threshold bans the reported guest immediately; the ban
// is permanent until an administrative unban.
func (s *Service) Create(ctx context.Context, chatID int64, reporterID, reason string) (*CreateResult, error) {
	n := utf8.RuneCountInString(reason)
	if n < MinReasonChars || n > MaxReasonChars {
		return nil, ErrInvalidReason
	}

	ch, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if ch == nil || !ch.Participant(reporterID) {
		return nil, ErrChatUnavailable
	}
	reportedID := ch.Partner(reporterID)
	if reportedID == "" {
		return nil, ErrChatUnavailable
	}

	snapshot, err := s.snapshot(ctx, chatID, reporterID)
	if err != nil {
		log.Printf("[reports] snapshot chat=%d: %v", chatID, err)
		snapshot = nil
	}

	r, err := s.reports.Create(ctx, chatID, reporterID, reportedID, reason, snapshot)
	if err != nil {
		return nil, err
	}
	metrics.ReportsTotal.Inc()

	if err := s.pub.UserReported(events.UserReportedEvent{
		ReportID:   r.ID,
		ChatID:     chatID,
		ReportedID: reportedID,
	}); err != nil {
		log.Printf("[reports] publish report=%d: %v", r.ID, err)
	}

	s.enqueueProcess(r.ID)

	banned, err := s.applyThreshold(ctx, reportedID)
	if err != nil {
		return nil, err
	}

	log.Printf("[reports] report=%d filed chat=%d reported=%s auto_banned=%t",
		r.ID, chatID, reportedID, banned)

	return &CreateResult{ReportID: r.ID, Status: r.Status, AutoBanned: banned}, nil
}

// Process re-runs the threshold check for a previously filed report. It is
// the async follow-up behind ProcessJob and is idempotent: banning a banned
// guest changes nothing.
func (s *Service) Process(ctx context.Context, reportID int64) error {
	r, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return err
	}
	if r == nil {
		log.Printf("[reports] process: report=%d not found", reportID)
		return nil
	}

	banned, err := s.applyThreshold(ctx, r.ReportedID)
	if err != nil {
		return err
	}
	if banned {
		log.Printf("[reports] process report=%d: guest=%s banned", reportID, r.ReportedID)
	}
	return nil
}

// HandleProcessJob decodes and runs one async job. Wire it to the broker's
// report-processing subscription.
func (s *Service) HandleProcessJob(ctx context.Context, data []byte) {
	var job ProcessJob
	if err := json.Unmarshal(data, &job); err != nil {
		log.Printf("[reports] invalid process job: %v", err)
		return
	}
	if err := s.Process(ctx, job.ReportID); err != nil {
		log.Printf("[reports] process report=%d: %v", job.ReportID, err)
	}
}

// Pending returns reports awaiting review.
func (s *Service) Pending(ctx context.Context) ([]*Report, error) {
	return s.reports.ListByStatus(ctx, StatusPending)
}

// All returns every report, newest first.
func (s *Service) All(ctx context.Context) ([]*Report, error) {
	return s.reports.ListAll(ctx)
}

// UpdateStatus moves a report through the review workflow.
func (s *Service) UpdateStatus(ctx context.Context, reportID int64, status string) (bool, error) {
	return s.reports.UpdateStatus(ctx, reportID, status)
}

func (s *Service) applyThreshold(ctx context.Context, reportedID string) (bool, error) {
	count, err := s.reports.CountAgainst(ctx, reportedID)
	if err != nil {
		return false, err
	}
	if count < s.threshold {
		return false, nil
	}

	g, err := s.guests.GetByID(ctx, reportedID)
	if err != nil && !errors.Is(err, guest.ErrNotFound) {
		return false, err
	}
	alreadyBanned := err == nil && g.Banned()

	if err := s.guests.Ban(ctx, reportedID); err != nil {
		return false, err
	}
	if !alreadyBanned {
		metrics.AutoBansTotal.Inc()
		log.Printf("[reports] auto-banned guest=%s after %d reports", reportedID, count)
	}
	return true, nil
}

// snapshot collects the last few messages of the chat with senders reduced
// to reporter/reported.
func (s *Service) snapshot(ctx context.Context, chatID int64, reporterID string) ([]SnapshotEntry, error) {
	msgs, err := s.messages.ListRecent(ctx, chatID, SnapshotMessages)
	if err != nil {
		return nil, err
	}

	entries := make([]SnapshotEntry, 0, len(msgs))
	for _, m := range msgs {
		from := "reported"
		if m.SenderID == reporterID {
			from = "reporter"
		}
		entries = append(entries, SnapshotEntry{From: from, Text: m.Content, At: m.CreatedAt})
	}
	return entries, nil
}

func (s *Service) enqueueProcess(reportID int64) {
	if s.jobs == nil {
		return
	}
	data, err := json.Marshal(ProcessJob{ReportID: reportID})
	if err != nil {
		log.Printf("[reports] marshal process job report=%d: %v", reportID, err)
		return
	}
	if err := s.jobs.PublishReportProcess(data); err != nil {
		log.Printf("[reports] enqueue process report=%d: %v", reportID, err)
	}
}
