package lifecycle_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/dbtest"
	"github.com/tutorlink/chat-app/internal/events"
	"github.com/tutorlink/chat-app/internal/guest"
	"github.com/tutorlink/chat-app/internal/lifecycle"
	"github.com/tutorlink/chat-app/internal/presence"
)

type recorder struct {
	events.Discard
	mu    sync.Mutex
	ended []events.ChatEndedEvent
}

func (r *recorder) ChatEnded(e events.ChatEndedEvent) error {
	r.mu.Lock()
	r.ended = append(r.ended, e)
	r.mu.Unlock()
	return nil
}

type harness struct {
	db         *sql.DB
	clk        *clock.Fake
	guests     *guest.Store
	presence   *presence.Store
	chats      *chat.Store
	controller *lifecycle.Controller
	rec        *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := &recorder{}
	return &harness{
		db:         db,
		clk:        clk,
		guests:     guest.NewStore(db, clk),
		presence:   presence.NewStore(db, clk, 0),
		chats:      chat.NewStore(db, clk),
		controller: lifecycle.NewController(db, clk, 0, time.Hour, rec),
		rec:        rec,
	}
}

// activePair creates two online guests in an active chat.
func (h *harness) activePair(t *testing.T) (*guest.Guest, *guest.Guest, *chat.Chat) {
	t.Helper()
	ctx := context.Background()

	a, err := h.guests.Create(ctx, guest.Attrs{}, 0)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	b, err := h.guests.Create(ctx, guest.Attrs{}, 0)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	for _, id := range []string{a.ID, b.ID} {
		if err := h.presence.MarkOnline(ctx, id); err != nil {
			t.Fatalf("mark online: %v", err)
		}
		if err := h.guests.UpdateStatus(ctx, id, guest.StatusActive); err != nil {
			t.Fatalf("set active: %v", err)
		}
	}
	ch, err := h.chats.Create(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return a, b, ch
}

func TestController_EndChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, b, ch := h.activePair(t)

	ended, err := h.controller.EndChat(ctx, ch.ID, a.ID)
	if err != nil {
		t.Fatalf("EndChat: %v", err)
	}
	if !ended {
		t.Fatal("EndChat returned false for active chat")
	}

	got, _ := h.chats.GetByID(ctx, ch.ID)
	if got.Active() {
		t.Error("chat still active")
	}
	if got.EndedBy != a.ID || got.EndedAt.IsZero() {
		t.Errorf("audit fields = endedBy %q endedAt %v", got.EndedBy, got.EndedAt)
	}

	// Both ends released to idle and offline.
	for _, id := range []string{a.ID, b.ID} {
		g, _ := h.guests.GetByID(ctx, id)
		if g.Status != guest.StatusIdle {
			t.Errorf("guest %s status = %q, want idle", id, g.Status)
		}
		if online, _ := h.presence.IsOnline(ctx, id); online {
			t.Errorf("guest %s still online after chat ended", id)
		}
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.ended) != 1 || h.rec.ended[0].ChatID != ch.ID || h.rec.ended[0].EndedBy != a.ID {
		t.Errorf("chat ended events = %+v", h.rec.ended)
	}
}

func TestController_EndChatIdempotence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, b, ch := h.activePair(t)

	ended, err := h.controller.EndChat(ctx, ch.ID, a.ID)
	if err != nil || !ended {
		t.Fatalf("first EndChat = (%v, %v), want (true, nil)", ended, err)
	}
	firstState, _ := h.chats.GetByID(ctx, ch.ID)

	// The partner ending again is a no-op that leaves the audit trail alone.
	h.clk.Advance(time.Minute)
	ended, err = h.controller.EndChat(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("second EndChat: %v", err)
	}
	if ended {
		t.Error("second EndChat returned true")
	}
	got, _ := h.chats.GetByID(ctx, ch.ID)
	if !got.EndedAt.Equal(firstState.EndedAt) || got.EndedBy != a.ID {
		t.Errorf("audit trail changed on repeat end: %+v", got)
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.ended) != 1 {
		t.Errorf("published %d ended events, want 1", len(h.rec.ended))
	}
}

func TestController_EndChatRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, ch := h.activePair(t)
	outsider, err := h.guests.Create(ctx, guest.Attrs{}, 0)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}

	ended, err := h.controller.EndChat(ctx, 9999, outsider.ID)
	if err != nil || ended {
		t.Errorf("missing chat: EndChat = (%v, %v), want (false, nil)", ended, err)
	}

	ended, err = h.controller.EndChat(ctx, ch.ID, outsider.ID)
	if err != nil || ended {
		t.Errorf("non-participant: EndChat = (%v, %v), want (false, nil)", ended, err)
	}
	got, _ := h.chats.GetByID(ctx, ch.ID)
	if !got.Active() {
		t.Error("chat mutated by rejected end request")
	}
}

func TestController_SweepStaleChats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Healthy pair stays untouched.
	_, _, healthy := h.activePair(t)

	// One side of this pair goes dark.
	_, survivor, abandoned := h.activePair(t)
	if err := h.presence.MarkOffline(ctx, abandoned.Guest1); err != nil {
		t.Fatalf("mark offline: %v", err)
	}

	swept := h.controller.SweepStaleChats(ctx)
	if swept != 1 {
		t.Fatalf("swept %d chats, want 1", swept)
	}

	got, _ := h.chats.GetByID(ctx, abandoned.ID)
	if got.Active() {
		t.Error("stale chat still active after sweep")
	}
	// The participant who was still online is recorded as the ender.
	if got.EndedBy != survivor.ID {
		t.Errorf("endedBy = %s, want surviving participant %s", got.EndedBy, survivor.ID)
	}

	got, _ = h.chats.GetByID(ctx, healthy.ID)
	if !got.Active() {
		t.Error("healthy chat was swept")
	}

	// Sweeping again is a no-op.
	if swept := h.controller.SweepStaleChats(ctx); swept != 0 {
		t.Errorf("second sweep ended %d chats, want 0", swept)
	}
}

func TestController_SweepEndsChatWhenBothGone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, ch := h.activePair(t)

	// Both presence entries expire.
	h.clk.Advance(presence.DefaultTTL + time.Minute)

	if swept := h.controller.SweepStaleChats(ctx); swept != 1 {
		t.Fatalf("swept %d chats, want 1", swept)
	}
	got, _ := h.chats.GetByID(ctx, ch.ID)
	if got.Active() {
		t.Fatal("chat still active")
	}
	if got.EndedBy != ch.Guest1 {
		t.Errorf("endedBy = %s, want guest_id_1 %s when both gone", got.EndedBy, ch.Guest1)
	}
}

func TestController_SweepEndsIdleChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	controller := lifecycle.NewController(h.db, h.clk, 0, 10*time.Minute, h.rec)

	a, b, ch := h.activePair(t)
	chats := chat.NewStore(h.db, h.clk)

	keepOnline := func() {
		for _, id := range []string{a.ID, b.ID} {
			if err := h.presence.MarkOnline(ctx, id); err != nil {
				t.Fatalf("mark online: %v", err)
			}
		}
	}

	// Activity midway resets the idle clock.
	h.clk.Advance(6 * time.Minute)
	if err := chats.Touch(ctx, ch.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}

	h.clk.Advance(6 * time.Minute)
	keepOnline()
	if swept := controller.SweepStaleChats(ctx); swept != 0 {
		t.Fatalf("swept %d chats before idle timeout, want 0", swept)
	}

	// Past the timeout with no further activity, heartbeats alone do not
	// keep the chat alive.
	h.clk.Advance(5 * time.Minute)
	keepOnline()
	if swept := controller.SweepStaleChats(ctx); swept != 1 {
		t.Fatalf("swept %d idle chats, want 1", swept)
	}
	got, _ := chats.GetByID(ctx, ch.ID)
	if got.Active() {
		t.Error("idle chat still active")
	}
}

func TestController_SweepEndsChatWhenSessionExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.guests.Create(ctx, guest.Attrs{}, 10*time.Minute)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	b, err := h.guests.Create(ctx, guest.Attrs{}, 0)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	ch, err := h.chats.Create(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	// Keep both online but let a's session lapse. Heartbeats alone must not
	// keep an expired session's chat alive.
	h.clk.Advance(11 * time.Minute)
	for _, id := range []string{a.ID, b.ID} {
		if err := h.presence.MarkOnline(ctx, id); err != nil {
			t.Fatalf("mark online: %v", err)
		}
	}

	if swept := h.controller.SweepStaleChats(ctx); swept != 1 {
		t.Fatalf("swept %d chats, want 1", swept)
	}
	got, _ := h.chats.GetByID(ctx, ch.ID)
	if got.Active() {
		t.Error("chat with expired participant still active")
	}
}
