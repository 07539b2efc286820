// Package feedclient is a reconnecting subscriber for the feed websocket.
//
// It keeps the connection alive with the text "ping" keepalive the server
// answers, decodes every {type, data} frame and maintains a local mirror of the
// latest prices and positions.
package feedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// TypePong is the Type given to the server's plain-text keepalive reply.
const TypePong = "pong"

// Config holds configuration for the subscriber.
type Config struct {
	// URL of the feed, e.g. "ws://localhost:8765/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// PingInterval is the text keepalive cadence. Defaults to 20s; negative
	// disables it.
	PingInterval time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
}

// Message is one decoded frame.
type Message struct {
	Type string
	Data json.RawMessage
}

// Decode parses a raw frame. The bare "pong" reply becomes a TypePong message.
func Decode(raw []byte) (Message, error) {
	if string(raw) == TypePong {
		return Message{Type: TypePong}, nil
	}
	var m struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("frame without type: %s", raw)
	}
	return Message{Type: m.Type, Data: m.Data}, nil
}

// Client connects to the feed and streams messages.
type Client struct {
	cfg   Config
	state *State

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()
}

// New creates a Client. Returns an error if the URL is unparseable.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feedclient: unsupported scheme %q", u.Scheme)
	}
	return &Client{cfg: cfg, state: NewState()}, nil
}

// State is the mirror fed by every message received.
func (c *Client) State() *State { return c.state }

// Start streams messages into out until ctx is cancelled, reconnecting with
// exponential backoff. out may be nil when only the mirror is wanted.
func (c *Client) Start(ctx context.Context, out chan<- Message) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := c.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if connected {
			delay = c.cfg.ReconnectDelay
		}

		log.Printf("[feedclient] disconnected (%v), reconnecting in %s...", err, delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or ctx
// cancel. connected reports whether the dial succeeded.
func (c *Client) runOnce(ctx context.Context, out chan<- Message) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[feedclient] connected to %s", c.cfg.URL)

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}

		msg, err := Decode(raw)
		if err != nil {
			log.Printf("[feedclient] parse error: %v", err)
			continue
		}
		if err := c.state.Apply(msg); err != nil {
			log.Printf("[feedclient] apply %s: %v", msg.Type, err)
		}
		if out == nil {
			continue
		}
		select {
		case out <- msg:
		default:
			log.Printf("[feedclient] output full, dropping %s", msg.Type)
		}
	}
}

// keepalive sends "ping" on the interval and closes conn when ctx ends. It
// owns all writes to conn.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
			return
		case <-tick:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				conn.Close()
				return
			}
		}
	}
}
