package match

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

// FindMatch result statuses.
const (
	StatusInvalid        = "invalid"
	StatusNotOptedIn     = "not_opted_in"
	StatusNotOnline      = "not_online"
	StatusAlreadyMatched = "already_matched"
	StatusWaiting        = "waiting"
	StatusMatched        = "matched"
)

// Result is the tagged outcome of a FindMatch call. Expected races never
// surface as errors; they come back as StatusWaiting with a retry message.
type Result struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
	PartnerID string `json:"partner_id,omitempty"`
}

// errRaceLost marks a benign abort: a concurrent matcher got there first or a
// party opted out between the scan and the create.
var errRaceLost = errors.New("match: race lost")

// Engine finds and atomically claims a compatible waiting partner.
type Engine struct {
	db       *sql.DB
	clk      clock.Clock
	policy   Policy
	guests   *guest.Store
	presence *presence.Store
	chats    *chat.Store
	pub      events.Publisher
}

// NewEngine wires a matching engine over db. presenceTTL configures the
// presence freshness predicate used during pool scans.
func NewEngine(db *sql.DB, clk clock.Clock, policy Policy, presenceTTL time.Duration, pub events.Publisher) *Engine {
	return &Engine{
		db:       db,
		clk:      clk,
		policy:   policy,
		guests:   guest.NewStore(db, clk),
		presence: presence.NewStore(db, clk, presenceTTL),
		chats:    chat.NewStore(db, clk),
		pub:      pub,
	}
}

// FindMatch attempts to pair the guest with the oldest-waiting compatible
// partner. Repeated calls are always safe: the operation is idempotent by
// polling, and an existing active chat short-circuits to already_matched.
func (e *Engine) FindMatch(ctx context.Context, guestID string) *Result {
	started := e.clk.Now()
	res := e.findMatch(ctx, guestID)
	metrics.MatchAttempts.WithLabelValues(res.Status).Inc()
	metrics.MatchLatency.Observe(e.clk.Now().Sub(started).Seconds())
	return res
}

func (e *Engine) findMatch(ctx context.Context, guestID string) *Result {
	// Cheap precondition checks first, in a fixed order; the first failure
	// returns immediately.
	g, err := e.guests.GetByID(ctx, guestID)
	if err != nil {
		if errors.Is(err, guest.ErrNotFound) {
			log.Printf("[matcher] guest=%s not found", guestID)
			return &Result{Status: StatusInvalid, Message: "Invalid session"}
		}
		log.Printf("[matcher] guest=%s lookup: %v", guestID, err)
		return retryResult()
	}
	if g.Banned() {
		log.Printf("[matcher] guest=%s is banned", guestID)
		return &Result{Status: StatusInvalid, Message: "Invalid session"}
	}
	if g.Expired(e.clk.Now()) {
		log.Printf("[matcher] guest=%s session expired", guestID)
		return &Result{Status: StatusInvalid, Message: "Session expired"}
	}

	// Mutual-intent gate: only guests who opted in may be matched.
	waiting, err := e.presence.IsWaiting(ctx, guestID)
	if err != nil {
		log.Printf("[matcher] guest=%s waiting check: %v", guestID, err)
		return retryResult()
	}
	if !waiting {
		return &Result{Status: StatusNotOptedIn, Message: "You must opt in to begin matching"}
	}

	online, err := e.presence.IsOnline(ctx, guestID)
	if err != nil {
		log.Printf("[matcher] guest=%s online check: %v", guestID, err)
		return retryResult()
	}
	if !online {
		return &Result{Status: StatusNotOnline, Message: "Connection lost. Please reconnect."}
	}

	// Idempotent short-circuit: must run before any pool scan, otherwise a
	// repeated call could pair an already-matched guest a second time.
	existing, err := e.chats.FindActiveByGuest(ctx, guestID)
	if err != nil {
		log.Printf("[matcher] guest=%s active chat lookup: %v", guestID, err)
		return retryResult()
	}
	if existing != nil {
		return &Result{
			Status:    StatusAlreadyMatched,
			Message:   "You are already in an active chat",
			ChatID:    existing.ID,
			PartnerID: existing.Partner(guestID),
		}
	}

	partnerID, err := e.selectPartner(ctx, guestID, g.Attrs())
	if err != nil {
		log.Printf("[matcher] guest=%s partner selection: %v", guestID, err)
		return retryResult()
	}
	if partnerID == "" {
		return &Result{Status: StatusWaiting, Message: "Waiting for another user to start a chat..."}
	}

	created, err := e.createChat(ctx, guestID, partnerID)
	if err != nil {
		if errors.Is(err, errRaceLost) {
			log.Printf("[matcher] guest=%s lost race for partner=%s", guestID, partnerID)
		} else {
			log.Printf("[matcher] guest=%s create chat with partner=%s: %v", guestID, partnerID, err)
		}
		return retryResult()
	}

	log.Printf("[matcher] chat=%d created guest=%s partner=%s", created.ID, guestID, partnerID)
	if err := e.pub.Matched(events.MatchedEvent{
		ChatID: created.ID,
		Guest1: created.Guest1,
		Guest2: created.Guest2,
	}); err != nil {
		log.Printf("[matcher] publish matched chat=%d: %v", created.ID, err)
	}

	return &Result{
		Status:    StatusMatched,
		Message:   "You have been matched!",
		ChatID:    created.ID,
		PartnerID: partnerID,
	}
}

// selectPartner scans the waiting pool inside a row-locked transaction and
// returns the first compatible candidate, oldest-waiting first. Stale pool
// entries discovered along the way are evicted as a side effect. Returns ""
// when the pool holds no compatible partner.
func (e *Engine) selectPartner(ctx context.Context, guestID string, attrs guest.Attrs) (string, error) {
	var partnerID string

	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		presenceTx := e.presence.WithQuerier(tx)
		guestsTx := guest.NewStore(tx, e.clk)
		chatsTx := e.chats.WithQuerier(tx)

		candidates, err := presenceTx.WaitingForUpdate(ctx, guestID)
		if err != nil {
			return err
		}

		log.Printf("[matcher] guest=%s scanning %d waiting candidates", guestID, len(candidates))

		for _, cand := range candidates {
			cg, err := guestsTx.GetByID(ctx, cand.GuestID)
			if err != nil && !errors.Is(err, guest.ErrNotFound) {
				return err
			}
			if err != nil || cg.Banned() || cg.Expired(e.clk.Now()) {
				// Self-healing: stale or banned entries leave the pool here
				// so later scans stay cheap.
				if evictErr := presenceTx.RemoveFromWaitingPool(ctx, cand.GuestID); evictErr != nil {
					return evictErr
				}
				log.Printf("[matcher] evicted invalid candidate=%s", cand.GuestID)
				continue
			}

			inChat, err := chatsTx.FindActiveByGuest(ctx, cand.GuestID)
			if err != nil {
				return err
			}
			if inChat != nil {
				if evictErr := presenceTx.RemoveFromWaitingPool(ctx, cand.GuestID); evictErr != nil {
					return evictErr
				}
				log.Printf("[matcher] evicted candidate=%s already in chat=%d", cand.GuestID, inChat.ID)
				continue
			}

			// Incompatibility is not staleness; leave the entry for others.
			if !e.policy.Compatible(attrs, cand.Attrs()) {
				continue
			}

			partnerID = cand.GuestID
			return nil
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return partnerID, nil
}

// createChat forms the chat in a second, shorter transaction. It re-verifies
// both parties are still waiting and unmatched; this is the authoritative
// duplicate check, so a violation aborts with errRaceLost instead of creating
// a second active chat.
func (e *Engine) createChat(ctx context.Context, guestID, partnerID string) (*chat.Chat, error) {
	var created *chat.Chat

	err := store.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		presenceTx := e.presence.WithQuerier(tx)
		guestsTx := guest.NewStore(tx, e.clk)
		chatsTx := e.chats.WithQuerier(tx)

		// Lock both presence rows so two creators sharing a participant
		// serialize; the loser's re-checks below then see the winner's chat.
		if err := presenceTx.Lock(ctx, guestID, partnerID); err != nil {
			return err
		}

		for _, id := range []string{guestID, partnerID} {
			stillWaiting, err := presenceTx.IsWaiting(ctx, id)
			if err != nil {
				return err
			}
			if !stillWaiting {
				return errRaceLost
			}
			existing, err := chatsTx.FindActiveByGuest(ctx, id)
			if err != nil {
				return err
			}
			if existing != nil {
				return errRaceLost
			}
		}

		c, err := chatsTx.Create(ctx, guestID, partnerID)
		if err != nil {
			return err
		}

		for _, id := range []string{guestID, partnerID} {
			if err := guestsTx.UpdateStatus(ctx, id, guest.StatusActive); err != nil {
				return err
			}
			if err := presenceTx.RemoveFromWaitingPool(ctx, id); err != nil {
				return err
			}
		}

		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func retryResult() *Result {
	return &Result{Status: StatusWaiting, Message: "Nothing happened yet. Please try again."}
}
