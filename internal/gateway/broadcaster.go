package gateway

import (
	"log"
	"time"

	"feed-engine/internal/model"
)

// Publish encodes e once and fans it out to every live subscriber.
func (h *Hub) Publish(e model.Event) {
	if h.ClientCount() == 0 {
		return
	}
	frame, err := model.Encode(e)
	if err != nil {
		log.Printf("[gateway] encode %s failed: %v", e.Type(), err)
		return
	}
	h.Broadcast(frame)
}

// Broadcast enqueues frame on every live subscriber without blocking. Peers
// whose buffer is full or whose transport is closed are removed after the
// loop; no delivery failure affects another peer.
func (h *Hub) Broadcast(frame []byte) {
	start := time.Now()
	recipients := h.live()
	if len(recipients) == 0 {
		return
	}

	var failed []*Client
	delivered := 0
	for _, c := range recipients {
		if c.trySend(frame) {
			delivered++
		} else {
			failed = append(failed, c)
		}
	}

	elapsed := time.Since(start)
	h.Latency.Observe(elapsed)
	if h.m != nil {
		h.m.BroadcastMessages.Add(float64(delivered))
		h.m.FanoutDuration.Observe(elapsed.Seconds())
	}

	for _, c := range failed {
		h.Unregister(c, ReasonSendFailed)
	}
}

// live copies the current live set.
func (h *Hub) live() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}
