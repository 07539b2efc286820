package feedclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-engine/internal/gateway"
	"feed-engine/internal/model"
)

type source struct {
	mu    sync.Mutex
	price float64
}

func (s *source) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Snapshot{
		Prices: map[string]model.PricePoint{
			"Gold": {Price: s.price, Timestamp: model.FormatTS(time.Now())},
		},
		Positions: map[string]model.Position{
			"RSI_Gold_mtm": {Field: "gold_positions", Holdings: 1, Cash: 7000},
		},
	}
}

func (s *source) Value(id string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, nil
}

func feedServer(t *testing.T) (*gateway.Hub, string) {
	t.Helper()
	src := &source{price: 1900}
	hub := gateway.NewHub(src, gateway.DefaultHubConfig(), nil, nil)
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, src, nil)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestNew_RejectsBadScheme(t *testing.T) {
	_, err := New(Config{URL: "http://localhost:8765/ws"})
	assert.Error(t, err)
	_, err = New(Config{URL: "ws://localhost:8765/ws"})
	assert.NoError(t, err)
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, TypePong, m.Type)

	m, err = Decode([]byte(`{"type":"price_update","data":{"index_id":"Gold","price":1901}}`))
	require.NoError(t, err)
	assert.Equal(t, "price_update", m.Type)

	_, err = Decode([]byte(`{"data":1}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestState_SnapshotThenUpdates(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Apply(Message{Type: "snapshot", Data: []byte(`{"Gold":{"price":1900,"timestamp":"t0"}}`)}))
	require.NoError(t, s.Apply(Message{Type: "positions_snapshot", Data: []byte(`{"RSI_Gold_mtm":{"gold_positions":1,"cash_balance":7000}}`)}))
	require.NoError(t, s.Apply(Message{Type: "price_update", Data: []byte(`{"index_id":"Gold","price":1901.5,"timestamp":"t1"}`)}))
	require.NoError(t, s.Apply(Message{Type: "position_update", Data: []byte(`{"index_id":"RSI_Gold_mtm","gold_positions":2,"cash_balance":5099,"timestamp":"t1"}`)}))

	q, ok := s.Price("Gold")
	require.True(t, ok)
	assert.Equal(t, Quote{Price: 1901.5, Timestamp: "t1"}, q)

	p, ok := s.Position("RSI_Gold_mtm")
	require.True(t, ok)
	assert.Equal(t, 2.0, p["gold_positions"])
	assert.Equal(t, 5099.0, p["cash_balance"])
	assert.NotContains(t, p, "timestamp")
	assert.Equal(t, 2, s.Updates())

	assert.Error(t, s.Apply(Message{Type: "price_update", Data: []byte(`{"price":1}`)}))
	assert.NoError(t, s.Apply(Message{Type: TypePong}))
}

func TestStart_ReceivesSnapshotAndUpdates(t *testing.T) {
	hub, url := feedServer(t)
	c, err := New(Config{URL: url, PingInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Message, 64)
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, out) }()

	next := func() Message {
		select {
		case m := <-out:
			return m
		case <-time.After(2 * time.Second):
			t.Fatal("no message")
			return Message{}
		}
	}
	assert.Equal(t, "snapshot", next().Type)
	assert.Equal(t, "positions_snapshot", next().Type)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(model.PriceUpdate{SeriesID: "Gold", Value: 1905, Timestamp: time.Now()})

	// pongs interleave with updates
	for {
		m := next()
		if m.Type == "price_update" {
			break
		}
		require.Equal(t, TypePong, m.Type)
	}
	q, ok := c.State().Price("Gold")
	require.True(t, ok)
	assert.Equal(t, 1905.0, q.Price)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_ReconnectsAfterServerClose(t *testing.T) {
	hub, url := feedServer(t)
	c, err := New(Config{URL: url, ReconnectDelay: 10 * time.Millisecond, PingInterval: -1})
	require.NoError(t, err)
	var reconnects atomic.Int32
	c.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx, nil)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.CloseAll()

	require.Eventually(t, func() bool { return reconnects.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}
