package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Headers set on every published auction event.
const (
	HeaderMsgID         = nats.MsgIdHdr
	HeaderCorrelationID = "Correlation-Id"
)

var ErrNotConnected = errors.New("event bus not connected")

// Config holds NATS connection settings.
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Client publishes auction events to NATS and relays subscriptions. It
// implements Publisher.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		logger: logger.With("component", "nats"),
		subs:   make(map[string]*nats.Subscription),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("disconnected", "error", err)
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("async error", "subject", subject, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.conn = conn
	return c, nil
}

// Publish encodes data as JSON. Events carry their id as the message id so a
// JetStream stream on auction.> drops duplicates.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	if event, ok := data.(*Event); ok {
		msg.Header.Set(HeaderMsgID, event.ID.String())
		if event.Metadata.CorrelationID != "" {
			msg.Header.Set(HeaderCorrelationID, event.Metadata.CorrelationID)
		}
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for subject, which may contain wildcards. A
// subject can only be subscribed once per client.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs[subject] = sub
	return nil
}

// IsConnected reports whether the connection is currently usable.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and pending publishes, then closes.
func (c *Client) Close() error {
	c.mu.Lock()
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
