package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingText = "ping"
	pongText = "pong"
)

// Client represents a single WebSocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	mu   sync.Mutex // guards send against close
	send chan []byte
	done bool

	closed   atomic.Bool  // a pump observed the transport closing
	lastSeen atomic.Int64 // unix nanos of the last frame or pong from the peer
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  h,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	c.touch()
	return c
}

// ID is the per-connection id used in logs.
func (c *Client) ID() string { return c.id }

// LastSeen is when the peer last sent anything, pongs included.
func (c *Client) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Client) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *Client) isClosed() bool { return c.closed.Load() }

// trySend enqueues msg without blocking. It reports false if the buffer is
// full or the client is already closed.
func (c *Client) trySend(msg []byte) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.done = true
		close(c.send)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closed.Store(true)
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump answers the literal text "ping" with "pong" and ignores every other
// inbound message.
func (c *Client) readPump() {
	defer func() {
		c.closed.Store(true)
		c.hub.Unregister(c, ReasonDisconnected)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})

	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		if mt == websocket.TextMessage && string(msg) == pingText {
			c.trySend([]byte(pongText))
		}
	}
}
