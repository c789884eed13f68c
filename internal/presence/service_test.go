package presence_test

import (
	"context"
	"testing"
	"time"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/dbtest"
	"github.com/tutorlink/chat-app/internal/guest"
	"github.com/tutorlink/chat-app/internal/presence"
)

func TestService_OptInOptOut(t *testing.T) {
	db := dbtest.Open(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	guests := guest.NewStore(db, clk)
	st := presence.NewStore(db, clk, 0)
	chats := chat.NewStore(db, clk)
	svc := presence.NewService(guests, st, chats)
	ctx := context.Background()

	g := newGuest(t, db, clk, guest.Attrs{})

	res, err := svc.OptIn(ctx, g.ID, guest.Attrs{Role: guest.RoleLearner, Subject: "math"})
	if err != nil {
		t.Fatalf("OptIn: %v", err)
	}
	if res.Status != presence.OptStatusWaiting {
		t.Fatalf("status = %q, want waiting", res.Status)
	}
	if res.Waiting != 1 {
		t.Errorf("waiting count = %d, want 1", res.Waiting)
	}

	if waiting, _ := st.IsWaiting(ctx, g.ID); !waiting {
		t.Error("guest not in waiting pool after opt-in")
	}
	gg, _ := guests.GetByID(ctx, g.ID)
	if gg.Status != guest.StatusWaiting {
		t.Errorf("guest status = %q, want waiting", gg.Status)
	}
	if gg.Subject != "math" {
		t.Errorf("attrs not stored on opt-in: subject = %q", gg.Subject)
	}

	if err := svc.OptOut(ctx, g.ID); err != nil {
		t.Fatalf("OptOut: %v", err)
	}
	if waiting, _ := st.IsWaiting(ctx, g.ID); waiting {
		t.Error("guest still waiting after opt-out")
	}
	gg, _ = guests.GetByID(ctx, g.ID)
	if gg.Status != guest.StatusIdle {
		t.Errorf("guest status after opt-out = %q, want idle", gg.Status)
	}
}

func TestService_OptInRejections(t *testing.T) {
	db := dbtest.Open(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	guests := guest.NewStore(db, clk)
	st := presence.NewStore(db, clk, 0)
	chats := chat.NewStore(db, clk)
	svc := presence.NewService(guests, st, chats)
	ctx := context.Background()

	res, err := svc.OptIn(ctx, "1f0a4a6e-0000-4000-8000-000000000000", guest.Attrs{})
	if err != nil {
		t.Fatalf("OptIn unknown guest: %v", err)
	}
	if res.Status != presence.OptStatusInvalid {
		t.Errorf("unknown guest status = %q, want invalid", res.Status)
	}

	banned := newGuest(t, db, clk, guest.Attrs{})
	if err := guests.Ban(ctx, banned.ID); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	res, err = svc.OptIn(ctx, banned.ID, guest.Attrs{})
	if err != nil {
		t.Fatalf("OptIn banned guest: %v", err)
	}
	if res.Status != presence.OptStatusBanned {
		t.Errorf("banned guest status = %q, want banned", res.Status)
	}

	a := newGuest(t, db, clk, guest.Attrs{})
	b := newGuest(t, db, clk, guest.Attrs{})
	ch, err := chats.Create(ctx, a.ID, b.ID)
	if err != nil {
		t.Fatalf("Create chat: %v", err)
	}
	res, err = svc.OptIn(ctx, a.ID, guest.Attrs{})
	if err != nil {
		t.Fatalf("OptIn matched guest: %v", err)
	}
	if res.Status != presence.OptStatusAlreadyMatched {
		t.Errorf("matched guest status = %q, want already_matched", res.Status)
	}
	if res.ChatID != ch.ID || res.PartnerID != b.ID {
		t.Errorf("matched result = chat %d partner %s, want chat %d partner %s",
			res.ChatID, res.PartnerID, ch.ID, b.ID)
	}
}

func TestService_HeartbeatAndDisconnect(t *testing.T) {
	db := dbtest.Open(t)
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	guests := guest.NewStore(db, clk)
	st := presence.NewStore(db, clk, time.Minute)
	svc := presence.NewService(guests, st, chat.NewStore(db, clk))
	ctx := context.Background()

	g := newGuest(t, db, clk, guest.Attrs{})

	// First heartbeat establishes presence.
	if err := svc.Heartbeat(ctx, g.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if online, _ := st.IsOnline(ctx, g.ID); !online {
		t.Fatal("guest not online after heartbeat")
	}

	// Heartbeats keep the entry fresh across several TTL windows.
	for i := 0; i < 3; i++ {
		clk.Advance(45 * time.Second)
		if err := svc.Heartbeat(ctx, g.ID); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
	}
	if online, _ := st.IsOnline(ctx, g.ID); !online {
		t.Error("guest expired despite heartbeats")
	}

	// A heartbeat after the entry was reaped re-establishes it.
	clk.Advance(2 * time.Minute)
	if _, err := st.ReapExpired(ctx); err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if err := svc.Heartbeat(ctx, g.ID); err != nil {
		t.Fatalf("Heartbeat after reap: %v", err)
	}
	if online, _ := st.IsOnline(ctx, g.ID); !online {
		t.Error("heartbeat did not re-establish presence after reap")
	}

	if err := svc.Disconnect(ctx, g.ID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if online, _ := st.IsOnline(ctx, g.ID); online {
		t.Error("guest still online after disconnect")
	}
}
