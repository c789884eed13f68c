// Package messaging provides a NATS client wrapper for pub/sub messaging
// between the chat core and its delivery layer. It handles connection
// lifecycle, subject-based subscriptions, and convenience methods for the
// lifecycle and report-processing channels.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns. Per-guest subjects carry lifecycle notifications the
// transport layer fans out to connected clients; per-chat subjects carry
// in-chat traffic.
const (
	SubjectMatchFound    = "match.found"    // + .<guest_id>
	SubjectChatEnded     = "chat.ended"     // + .<guest_id>
	SubjectChatMessage   = "chat.message"   // + .<chat_id>
	SubjectChatTyping    = "chat.typing"    // + .<chat_id>
	SubjectReportFiled   = "report.filed"
	SubjectReportProcess = "report.process" // async auto-ban recheck queue
)

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "tutorlink",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// PublishMatchFound notifies one guest that a match formed.
func (c *Client) PublishMatchFound(guestID string, data []byte) error {
	return c.Publish(SubjectMatchFound+"."+guestID, data)
}

// PublishChatEnded notifies one guest that their chat ended.
func (c *Client) PublishChatEnded(guestID string, data []byte) error {
	return c.Publish(SubjectChatEnded+"."+guestID, data)
}

// PublishChatMessage publishes a stored message to the chat's subject.
func (c *Client) PublishChatMessage(chatID string, data []byte) error {
	return c.Publish(SubjectChatMessage+"."+chatID, data)
}

// PublishChatTyping publishes a typing indicator to the chat's subject.
func (c *Client) PublishChatTyping(chatID string, data []byte) error {
	return c.Publish(SubjectChatTyping+"."+chatID, data)
}

// PublishReportFiled announces a new abuse report to moderation consumers.
func (c *Client) PublishReportFiled(data []byte) error {
	return c.Publish(SubjectReportFiled, data)
}

// PublishReportProcess enqueues an async auto-ban recheck for a report.
func (c *Client) PublishReportProcess(data []byte) error {
	return c.Publish(SubjectReportProcess, data)
}

// SubscribeReportProcess subscribes to the async report-processing queue.
// The queue group ensures one engine instance processes each job.
func (c *Client) SubscribeReportProcess(handler func(data []byte)) error {
	sub, err := c.conn.QueueSubscribe(SubjectReportProcess, "report-workers", func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectReportProcess, err)
	}

	c.mu.Lock()
	c.subs[SubjectReportProcess] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
