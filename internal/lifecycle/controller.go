// Package lifecycle tears chats down and returns both ends to a clean state.
// It owns the endChat entry point and the periodic sweep that force-ends
// chats whose participants disappeared.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/events"
	"github.com/tutorlink/chat-app/internal/guest"
	"github.com/tutorlink/chat-app/internal/metrics"
	"github.com/tutorlink/chat-app/internal/presence"
	"github.com/tutorlink/chat-app/internal/store"
)

// Controller ends chats and releases their participants.
type Controller struct {
	db          *sql.DB
	clk         clock.Clock
	guests      *guest.Store
	presence    *presence.Store
	chats       *chat.Store
	pub         events.Publisher
	chatTimeout time.Duration
}

// NewController wires a lifecycle controller over db. chatTimeout is the idle
// cutoff for the sweep; zero disables the inactivity check.
func NewController(db *sql.DB, clk clock.Clock, presenceTTL, chatTimeout time.Duration, pub events.Publisher) *Controller {
	return &Controller{
		db:          db,
		clk:         clk,
		guests:      guest.NewStore(db, clk),
		presence:    presence.NewStore(db, clk, presenceTTL),
		chats:       chat.NewStore(db, clk),
		pub:         pub,
		chatTimeout: chatTimeout,
	}
}

// EndChat ends an active chat on behalf of one of its participants. It is
// idempotent: a missing chat, a non-participant requester, or an
// already-ended chat all return false without mutating anything.
//
// Both participants go back to idle and offline. Offline, not just idle:
// a guest whose partner vanished mid-session would otherwise still look
// online and could be re-matched before their client reconnects.
func (c *Controller) EndChat(ctx context.Context, chatID int64, requesterID string) (bool, error) {
	ended := false

	err := store.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		chatsTx := c.chats.WithQuerier(tx)
		guestsTx := guest.NewStore(tx, c.clk)
		presenceTx := c.presence.WithQuerier(tx)

		ch, err := chatsTx.GetByIDForUpdate(ctx, chatID)
		if err != nil {
			return err
		}
		if ch == nil || !ch.Participant(requesterID) {
			log.Printf("[lifecycle] end chat=%d by guest=%s: not found or not participant", chatID, requesterID)
			return nil
		}
		if !ch.Active() {
			log.Printf("[lifecycle] chat=%d already ended, skipping", chatID)
			return nil
		}

		ok, err := chatsTx.End(ctx, chatID, requesterID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		for _, id := range []string{ch.Guest1, ch.Guest2} {
			if err := guestsTx.UpdateStatus(ctx, id, guest.StatusIdle); err != nil {
				return err
			}
			if err := presenceTx.RemoveFromWaitingPool(ctx, id); err != nil {
				return err
			}
			if err := presenceTx.MarkOffline(ctx, id); err != nil {
				return err
			}
		}

		ended = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if ended {
		ch, err := c.chats.GetByID(ctx, chatID)
		if err == nil && ch != nil {
			if pubErr := c.pub.ChatEnded(events.ChatEndedEvent{
				ChatID:  ch.ID,
				EndedBy: requesterID,
				Guest1:  ch.Guest1,
				Guest2:  ch.Guest2,
			}); pubErr != nil {
				log.Printf("[lifecycle] publish chat ended chat=%d: %v", chatID, pubErr)
			}
		}
		log.Printf("[lifecycle] chat=%d ended by guest=%s", chatID, requesterID)
	}

	return ended, nil
}

// SweepStaleChats force-ends active chats where either participant has gone
// offline or whose session expired, plus chats idle past the configured
// timeout. The participant still online is recorded as the ender; guest_1
// when both are gone or the chat merely idled out. A failure on one chat is
// logged and skipped so the rest of the sweep proceeds.
func (c *Controller) SweepStaleChats(ctx context.Context) int {
	active, err := c.chats.ListActive(ctx)
	if err != nil {
		log.Printf("[sweeper] list active chats: %v", err)
		return 0
	}

	swept := 0
	for _, ch := range active {
		stale, endedBy, err := c.chatIsStale(ctx, ch)
		if err != nil {
			log.Printf("[sweeper] check chat=%d: %v", ch.ID, err)
			continue
		}
		if !stale {
			continue
		}

		ok, err := c.EndChat(ctx, ch.ID, endedBy)
		if err != nil {
			log.Printf("[sweeper] end stale chat=%d: %v", ch.ID, err)
			continue
		}
		if ok {
			swept++
			metrics.SweptChats.Inc()
		}
	}

	if swept > 0 {
		log.Printf("[sweeper] force-ended %d stale chats", swept)
	}
	return swept
}

// chatIsStale decides whether a chat must be force-ended and who counts as
// the ender for the audit trail.
func (c *Controller) chatIsStale(ctx context.Context, ch *chat.Chat) (bool, string, error) {
	online1, err := c.presence.IsOnline(ctx, ch.Guest1)
	if err != nil {
		return false, "", err
	}
	online2, err := c.presence.IsOnline(ctx, ch.Guest2)
	if err != nil {
		return false, "", err
	}

	expired1, err := c.guestExpired(ctx, ch.Guest1)
	if err != nil {
		return false, "", err
	}
	expired2, err := c.guestExpired(ctx, ch.Guest2)
	if err != nil {
		return false, "", err
	}

	idle := c.chatTimeout > 0 &&
		!ch.LastActivityAt.After(c.clk.Now().Add(-c.chatTimeout))

	if online1 && online2 && !expired1 && !expired2 && !idle {
		return false, "", nil
	}

	endedBy := ch.Guest1
	if !online1 && online2 {
		endedBy = ch.Guest2
	}
	return true, endedBy, nil
}

func (c *Controller) guestExpired(ctx context.Context, id string) (bool, error) {
	g, err := c.guests.GetByID(ctx, id)
	if errors.Is(err, guest.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return g.Expired(c.clk.Now()), nil
}

// RunSweeper runs SweepStaleChats and the presence reaper on a ticker until
// ctx is cancelled.
func (c *Controller) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweeper] stopped")
			return
		case <-ticker.C:
			c.SweepStaleChats(ctx)
			if n, err := c.presence.ReapExpired(ctx); err != nil {
				log.Printf("[sweeper] reap presence: %v", err)
			} else if n > 0 {
				log.Printf("[sweeper] reaped %d expired presence entries", n)
			}
		}
	}
}
