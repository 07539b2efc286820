package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"feed-engine/internal/metrics"
	"feed-engine/internal/model"
)

// Eviction reasons, used as the metrics label.
const (
	ReasonSendFailed   = "send_failed"
	ReasonDisconnected = "disconnected"
	ReasonClosed       = "closed"
	ReasonSilent       = "silent"
	ReasonShutdown     = "shutdown"
)

// SnapshotSource is the read side of the simulation state.
type SnapshotSource interface {
	Snapshot() model.Snapshot
}

// HubConfig tunes per-connection buffering and keepalive.
type HubConfig struct {
	SendBuffer   int           // outbound frames buffered per client
	PingInterval time.Duration // transport ping cadence
	PongWait     time.Duration // silence after which a peer counts as dead
	WriteWait    time.Duration // deadline for a single write
}

// DefaultHubConfig pings every 20s and gives peers 30s on top to answer.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBuffer:   256,
		PingInterval: 20 * time.Second,
		PongWait:     50 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

// Hub owns the live subscriber set. A new subscriber is sent the current
// snapshot and joined to the set in one critical section, so it sees every
// update made after its snapshot.
type Hub struct {
	cfg    HubConfig
	source SnapshotSource

	mu      sync.RWMutex
	clients map[*Client]struct{}

	// Fan-out latency, exposed on /healthz.
	Latency *LatencyTracker

	m      *metrics.Metrics
	health *metrics.HealthStatus
}

// NewHub creates a hub serving snapshots from source. m and health may be nil.
func NewHub(source SnapshotSource, cfg HubConfig, m *metrics.Metrics, health *metrics.HealthStatus) *Hub {
	def := DefaultHubConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	h := &Hub{
		cfg:     cfg,
		source:  source,
		clients: make(map[*Client]struct{}),
		Latency: NewLatencyTracker(10000),
		m:       m,
		health:  health,
	}
	if health != nil {
		health.SetLatencySource(h.Latency)
	}
	return h
}

// Register sends the snapshot to conn, adds it to the live set and starts its
// pumps.
func (h *Hub) Register(conn *websocket.Conn) (*Client, error) {
	c := newClient(h, conn)

	h.mu.Lock()
	frames, err := model.EncodeSnapshot(h.source.Snapshot())
	if err != nil {
		h.mu.Unlock()
		conn.Close()
		return nil, err
	}
	for _, f := range frames {
		c.trySend(f)
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.observeCount(count)
	log.Printf("[gateway] ws client %s connected from %s (%d total)", c.id, conn.RemoteAddr(), count)

	go c.writePump()
	go c.readPump()
	return c, nil
}

// Unregister removes c from the live set and closes its outbound buffer.
// Calling it for a client that is already gone is a no-op.
func (h *Hub) Unregister(c *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	c.closeSend()
	h.observeCount(count)
	if h.m != nil {
		h.m.Evictions.WithLabelValues(reason).Inc()
	}
	log.Printf("[gateway] ws client %s removed: %s (%d total)", c.id, reason, count)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll sends a going-away close frame to every peer and empties the set.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range all {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
		c.closeSend()
	}
	h.observeCount(0)
	if h.m != nil && len(all) > 0 {
		h.m.Evictions.WithLabelValues(ReasonShutdown).Add(float64(len(all)))
	}
	log.Printf("[gateway] closed %d ws clients", len(all))
}

// Sweep evicts peers whose transport has closed or that have been silent for
// longer than the pong wait. It returns the number evicted.
func (h *Hub) Sweep(now time.Time) int {
	evicted := 0
	for _, c := range h.live() {
		switch {
		case c.isClosed():
			h.Unregister(c, ReasonClosed)
		case now.Sub(c.LastSeen()) > h.cfg.PongWait:
			h.Unregister(c, ReasonSilent)
			c.conn.Close()
		default:
			continue
		}
		evicted++
	}
	return evicted
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (h *Hub) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := h.Sweep(now); n > 0 {
				log.Printf("[gateway] sweeper evicted %d dead clients", n)
			}
		}
	}
}

func (h *Hub) observeCount(n int) {
	if h.m != nil {
		h.m.WSClients.Set(float64(n))
	}
	if h.health != nil {
		h.health.SetClients(n)
	}
}
