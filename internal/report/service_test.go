package report_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/dbtest"
	"github.com/tutorlink/chat-app/internal/events"
	"github.com/tutorlink/chat-app/internal/guest"
	"github.com/tutorlink/chat-app/internal/message"
	"github.com/tutorlink/chat-app/internal/report"
)

type recorder struct {
	events.Discard
	mu       sync.Mutex
	reported []events.UserReportedEvent
}

func (r *recorder) UserReported(e events.UserReportedEvent) error {
	r.mu.Lock()
	r.reported = append(r.reported, e)
	r.mu.Unlock()
	return nil
}

// jobQueue collects enqueued process jobs instead of a broker.
type jobQueue struct {
	mu   sync.Mutex
	jobs [][]byte
}

func (q *jobQueue) PublishReportProcess(data []byte) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, data)
	q.mu.Unlock()
	return nil
}

type harness struct {
	db       *sql.DB
	clk      *clock.Fake
	guests   *guest.Store
	chats    *chat.Store
	messages *message.Store
	svc      *report.Service
	rec      *recorder
	queue    *jobQueue
}

func newHarness(t *testing.T, threshold int) *harness {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	guests := guest.NewStore(db, clk)
	chats := chat.NewStore(db, clk)
	messages := message.NewStore(db, clk)
	rec := &recorder{}
	queue := &jobQueue{}

	return &harness{
		db:       db,
		clk:      clk,
		guests:   guests,
		chats:    chats,
		messages: messages,
		svc: report.NewService(report.NewStore(db, clk), chats, guests, messages,
			rec, queue, threshold),
		rec:   rec,
		queue: queue,
	}
}

func (h *harness) newGuest(t *testing.T) *guest.Guest {
	t.Helper()
	g, err := h.guests.Create(context.Background(), guest.Attrs{}, 0)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	return g
}

func TestService_Create(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	reporter := h.newGuest(t)
	reported := h.newGuest(t)
	ch, err := h.chats.Create(ctx, reporter.ID, reported.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	for i, m := range []struct {
		sender  string
		content string
	}{
		{reported.ID, "first"},
		{reporter.ID, "second"},
		{reported.ID, "third"},
	} {
		if _, err := h.messages.Create(ctx, ch.ID, m.sender, m.content, false); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		h.clk.Advance(time.Second)
	}

	res, err := h.svc.Create(ctx, ch.ID, reporter.ID, "sharing contact details repeatedly")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.Status != report.StatusPending {
		t.Errorf("status = %q, want pending", res.Status)
	}
	if res.AutoBanned {
		t.Error("single report auto-banned")
	}

	reports, err := h.svc.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d pending reports, want 1", len(reports))
	}
	r := reports[0]

	// Reported side derived from the chat pair, never caller-supplied.
	if r.ReportedID != reported.ID || r.ReporterID != reporter.ID {
		t.Errorf("report parties = %s -> %s, want %s -> %s",
			r.ReporterID, r.ReportedID, reporter.ID, reported.ID)
	}

	// Snapshot carries the conversation with anonymised senders, oldest first.
	if len(r.Messages) != 3 {
		t.Fatalf("snapshot has %d entries, want 3", len(r.Messages))
	}
	wantFrom := []string{"reported", "reporter", "reported"}
	for i, e := range r.Messages {
		if e.From != wantFrom[i] {
			t.Errorf("snapshot %d from = %q, want %q", i, e.From, wantFrom[i])
		}
	}
	if r.Messages[0].Text != "first" {
		t.Errorf("snapshot not oldest first: %+v", r.Messages)
	}

	h.rec.mu.Lock()
	if len(h.rec.reported) != 1 || h.rec.reported[0].ReportedID != reported.ID {
		t.Errorf("reported events = %+v", h.rec.reported)
	}
	h.rec.mu.Unlock()

	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	if len(h.queue.jobs) != 1 {
		t.Fatalf("enqueued %d process jobs, want 1", len(h.queue.jobs))
	}
	var job report.ProcessJob
	if err := json.Unmarshal(h.queue.jobs[0], &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.ReportID != res.ReportID {
		t.Errorf("job report = %d, want %d", job.ReportID, res.ReportID)
	}
}

func TestService_CreateRejections(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	reporter := h.newGuest(t)
	reported := h.newGuest(t)
	outsider := h.newGuest(t)
	ch, err := h.chats.Create(ctx, reporter.ID, reported.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if _, err := h.svc.Create(ctx, ch.ID, reporter.ID, "too short"); !errors.Is(err, report.ErrInvalidReason) {
		t.Errorf("short reason: err = %v, want ErrInvalidReason", err)
	}
	long := strings.Repeat("a", report.MaxReasonChars+1)
	if _, err := h.svc.Create(ctx, ch.ID, reporter.ID, long); !errors.Is(err, report.ErrInvalidReason) {
		t.Errorf("long reason: err = %v, want ErrInvalidReason", err)
	}
	if _, err := h.svc.Create(ctx, ch.ID, outsider.ID, "spamming me with advertisements"); !errors.Is(err, report.ErrChatUnavailable) {
		t.Errorf("outsider: err = %v, want ErrChatUnavailable", err)
	}
	if _, err := h.svc.Create(ctx, 9999, reporter.ID, "spamming me with advertisements"); !errors.Is(err, report.ErrChatUnavailable) {
		t.Errorf("missing chat: err = %v, want ErrChatUnavailable", err)
	}
}

func TestService_ThresholdAutoBan(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	bad := h.newGuest(t)

	// Three different partners report the same guest across three chats.
	for i := 0; i < 3; i++ {
		reporter := h.newGuest(t)
		ch, err := h.chats.Create(ctx, reporter.ID, bad.ID)
		if err != nil {
			t.Fatalf("create chat %d: %v", i, err)
		}

		res, err := h.svc.Create(ctx, ch.ID, reporter.ID, "harassing behaviour in chat")
		if err != nil {
			t.Fatalf("report %d: %v", i, err)
		}

		wantBanned := i == 2
		if res.AutoBanned != wantBanned {
			t.Errorf("report %d: auto_banned = %v, want %v", i+1, res.AutoBanned, wantBanned)
		}

		if _, err := h.chats.End(ctx, ch.ID, reporter.ID); err != nil {
			t.Fatalf("end chat %d: %v", i, err)
		}
		h.clk.Advance(time.Minute)
	}

	g, err := h.guests.GetByID(ctx, bad.ID)
	if err != nil {
		t.Fatalf("get guest: %v", err)
	}
	if !g.Banned() {
		t.Fatal("guest not banned after reaching threshold")
	}
}

func TestService_ProcessJobIsIdempotent(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	reporter := h.newGuest(t)
	reported := h.newGuest(t)
	ch, err := h.chats.Create(ctx, reporter.ID, reported.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	res, err := h.svc.Create(ctx, ch.ID, reporter.ID, "abusive language throughout")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.AutoBanned {
		t.Fatal("threshold 1 should ban on first report")
	}

	// Replaying the async job against an already banned guest is harmless.
	h.queue.mu.Lock()
	job := h.queue.jobs[0]
	h.queue.mu.Unlock()
	h.svc.HandleProcessJob(ctx, job)
	h.svc.HandleProcessJob(ctx, job)

	g, _ := h.guests.GetByID(ctx, reported.ID)
	if !g.Banned() {
		t.Error("guest no longer banned after job replay")
	}

	// Garbage payloads are dropped, not fatal.
	h.svc.HandleProcessJob(ctx, []byte("not json"))
}

func TestService_ReviewWorkflow(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	reporter := h.newGuest(t)
	reported := h.newGuest(t)
	ch, err := h.chats.Create(ctx, reporter.ID, reported.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	res, err := h.svc.Create(ctx, ch.ID, reporter.ID, "inappropriate messages sent")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := h.svc.UpdateStatus(ctx, res.ReportID, report.StatusReviewing)
	if err != nil || !ok {
		t.Fatalf("UpdateStatus = (%v, %v), want (true, nil)", ok, err)
	}

	pending, err := h.svc.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d reports still pending after review started", len(pending))
	}

	all, err := h.svc.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].Status != report.StatusReviewing {
		t.Errorf("All = %+v, want one reviewing report", all)
	}

	if _, err := h.svc.UpdateStatus(ctx, res.ReportID, "bogus"); err == nil {
		t.Error("expected error for invalid review status")
	}
	if ok, err := h.svc.UpdateStatus(ctx, 9999, report.StatusResolved); err != nil || ok {
		t.Errorf("missing report: UpdateStatus = (%v, %v), want (false, nil)", ok, err)
	}
}
