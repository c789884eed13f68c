package events

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tutorlink/chat-app/internal/messaging"
)

// NATSPublisher publishes events over the messaging client. Per-guest events
// go to per-guest subjects so the transport layer can route them to the right
// connections without inspecting payloads.
type NATSPublisher struct {
	client *messaging.Client
}

// NewNATSPublisher wraps a connected messaging client.
func NewNATSPublisher(client *messaging.Client) *NATSPublisher {
	return &NATSPublisher{client: client}
}

// Matched notifies both guests.
func (p *NATSPublisher) Matched(e MatchedEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal matched: %w", err)
	}
	if err := p.client.PublishMatchFound(e.Guest1, data); err != nil {
		return err
	}
	return p.client.PublishMatchFound(e.Guest2, data)
}

// ChatEnded notifies both guests.
func (p *NATSPublisher) ChatEnded(e ChatEndedEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal chat ended: %w", err)
	}
	if err := p.client.PublishChatEnded(e.Guest1, data); err != nil {
		return err
	}
	return p.client.PublishChatEnded(e.Guest2, data)
}

// MessageSent publishes to the chat's message subject.
func (p *NATSPublisher) MessageSent(e MessageSentEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal message sent: %w", err)
	}
	return p.client.PublishChatMessage(strconv.FormatInt(e.ChatID, 10), data)
}

// Typing publishes to the chat's typing subject.
func (p *NATSPublisher) Typing(e TypingEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal typing: %w", err)
	}
	return p.client.PublishChatTyping(strconv.FormatInt(e.ChatID, 10), data)
}

// UserReported publishes to the moderation feed.
func (p *NATSPublisher) UserReported(e UserReportedEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal user reported: %w", err)
	}
	return p.client.PublishReportFiled(data)
}
