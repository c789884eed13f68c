package presence

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tutorlink/chat-app/internal/chat"
	"github.com/tutorlink/chat-app/internal/guest"
)

// Opt-in result statuses.
const (
	OptStatusWaiting        = "waiting"
	OptStatusInvalid        = "invalid"
	OptStatusBanned         = "banned"
	OptStatusAlreadyMatched = "already_matched"
)

// OptResult is the tagged outcome of an OptIn call.
type OptResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
	PartnerID string `json:"partner_id,omitempty"`
	Waiting   int    `json:"waiting_users,omitempty"`
}

// Service exposes the presence entry points: opt in, opt out, heartbeat and
// disconnect. It owns no locking; these are single-row upserts, and the
// matching engine re-validates everything under its own locks.
type Service struct {
	guests   *guest.Store
	presence *Store
	chats    *chat.Store
}

// NewService wires the presence entry points.
func NewService(guests *guest.Store, presence *Store, chats *chat.Store) *Service {
	return &Service{guests: guests, presence: presence, chats: chats}
}

// OptIn marks the guest online, joins the waiting pool with the given
// matching attributes, and moves the guest to waiting status. Banned guests
// and guests already in an active chat are rejected.
func (s *Service) OptIn(ctx context.Context, guestID string, attrs guest.Attrs) (*OptResult, error) {
	g, err := s.guests.GetByID(ctx, guestID)
	if err != nil {
		if errors.Is(err, guest.ErrNotFound) {
			return &OptResult{Status: OptStatusInvalid, Message: "Invalid session"}, nil
		}
		return nil, fmt.Errorf("presence: opt in lookup: %w", err)
	}
	if g.Banned() {
		return &OptResult{Status: OptStatusBanned, Message: "Guest is banned"}, nil
	}

	existing, err := s.chats.FindActiveByGuest(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("presence: opt in active chat lookup: %w", err)
	}
	if existing != nil {
		return &OptResult{
			Status:    OptStatusAlreadyMatched,
			Message:   "You are already in an active chat",
			ChatID:    existing.ID,
			PartnerID: existing.Partner(guestID),
		}, nil
	}

	if err := s.guests.SetAttrs(ctx, guestID, attrs); err != nil {
		return nil, err
	}
	if err := s.presence.AddToWaitingPool(ctx, guestID, attrs); err != nil {
		return nil, err
	}
	if err := s.guests.UpdateStatus(ctx, guestID, guest.StatusWaiting); err != nil {
		return nil, err
	}

	waiting, err := s.presence.CountWaiting(ctx)
	if err != nil {
		log.Printf("[presence] count waiting: %v", err)
		waiting = 0
	}

	log.Printf("[presence] guest=%s opted in (waiting pool: %d)", guestID, waiting)
	return &OptResult{Status: OptStatusWaiting, Message: "Opted in for matching", Waiting: waiting}, nil
}

// OptOut removes the guest from the waiting pool but leaves them online.
func (s *Service) OptOut(ctx context.Context, guestID string) error {
	if err := s.presence.RemoveFromWaitingPool(ctx, guestID); err != nil {
		return err
	}
	if err := s.guests.UpdateStatus(ctx, guestID, guest.StatusIdle); err != nil {
		return err
	}
	log.Printf("[presence] guest=%s opted out", guestID)
	return nil
}

// Heartbeat refreshes the presence TTL. Guests with no presence row yet are
// marked online, so a heartbeat after a reap re-establishes presence.
func (s *Service) Heartbeat(ctx context.Context, guestID string) error {
	online, err := s.presence.IsOnline(ctx, guestID)
	if err != nil {
		return err
	}
	if !online {
		return s.presence.MarkOnline(ctx, guestID)
	}
	return s.presence.Refresh(ctx, guestID)
}

// Disconnect marks the guest offline and out of the pool.
func (s *Service) Disconnect(ctx context.Context, guestID string) error {
	if err := s.presence.MarkOffline(ctx, guestID); err != nil {
		return err
	}
	log.Printf("[presence] guest=%s disconnected", guestID)
	return nil
}
