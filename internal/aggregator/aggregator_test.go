package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-engine/config"
	"feed-engine/internal/metrics"
	"feed-engine/internal/model"
	"feed-engine/internal/randwalk"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
	panics int32 // panics remaining
}

func (r *recordingPublisher) Publish(e model.Event) {
	if atomic.AddInt32(&r.panics, -1) >= 0 {
		panic("publisher exploded")
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingPublisher) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

type fakeSink struct {
	name       string
	mu         sync.Mutex
	upserts    []model.SeriesRecord
	reconnects int
	resets     int
	fail       bool
	err        error // returned by Upsert when fail is set, if non-nil
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Upsert(ctx context.Context, rec model.SeriesRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, rec)
	if f.fail {
		if f.err != nil {
			return f.err
		}
		return errors.New("connection reset by peer")
	}
	return nil
}

func (f *fakeSink) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeSink) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts), f.reconnects, f.resets
}

type tradeLog struct {
	mu     sync.Mutex
	trades []model.Trade
}

func (l *tradeLog) RecordTrade(t model.Trade) error {
	l.mu.Lock()
	l.trades = append(l.trades, t)
	l.mu.Unlock()
	return nil
}

func newAgg(t *testing.T, cat *config.Catalog, opts Options) *Aggregator {
	t.Helper()
	if opts.RNG == nil {
		opts.RNG = randwalk.NewSource(1)
	}
	a, err := New(cat, opts)
	require.NoError(t, err)
	return a
}

func TestNew_SeedsPortfolios(t *testing.T) {
	a := newAgg(t, config.DefaultCatalog(), Options{})

	snap := a.Snapshot()
	require.Len(t, snap.Prices, 6)
	require.Len(t, snap.Positions, 4)
	assert.Equal(t, 1900.0, snap.Prices["Gold"].Price)
	assert.InDelta(t, 10000, snap.Prices["RSI_Gold_mtm"].Price, 1e-9)
	assert.InDelta(t, 3000.0/1900.0, snap.Positions["RSI_Gold_ctn"].Holdings, 1e-12)
	assert.Equal(t, "silver_positions", snap.Positions["RSI_Silver_mtm"].Field)
	assert.Equal(t, 7000.0, snap.Positions["RSI_Silver_mtm"].Cash)

	osc, err := a.oscillator("RSI_Gold_mtm")
	require.NoError(t, err)
	assert.Equal(t, model.OscillatorSeed, osc)
}

func TestNew_RejectsInvalidCatalog(t *testing.T) {
	cat := config.DefaultCatalog()
	cat.Portfolios[0].Underlying = "RSI_Gold_ctn"
	_, err := New(cat, Options{RNG: randwalk.NewSource(1)})
	assert.ErrorIs(t, err, config.ErrInvalidCatalog)

	_, err = New(config.DefaultCatalog(), Options{})
	assert.Error(t, err, "nil RNG")
}

func TestValue_UnknownIndex(t *testing.T) {
	a := newAgg(t, config.DefaultCatalog(), Options{})
	_, err := a.Value("Platinum")
	assert.ErrorIs(t, err, model.ErrUnknownIndex)

	v, err := a.Value("Silver")
	require.NoError(t, err)
	assert.Equal(t, 30.0, v)
}

func TestTick_PublishOrder(t *testing.T) {
	pub := &recordingPublisher{}
	a := newAgg(t, config.DefaultCatalog(), Options{Publisher: pub})

	require.NoError(t, a.Tick(context.Background()))

	events := pub.all()
	require.Len(t, events, 2+4*2)
	assert.Equal(t, "Gold", events[0].(model.PriceUpdate).SeriesID)
	assert.Equal(t, "Silver", events[1].(model.PriceUpdate).SeriesID)
	for i, id := range []string{"RSI_Gold_mtm", "RSI_Gold_ctn", "RSI_Silver_mtm", "RSI_Silver_ctn"} {
		pu := events[2+2*i].(model.PriceUpdate)
		pos := events[3+2*i].(model.PositionUpdate)
		assert.Equal(t, id, pu.SeriesID)
		assert.Equal(t, id, pos.PortfolioID)
	}
}

func TestTick_BasicCatalogPricesOnly(t *testing.T) {
	cat, err := config.LoadCatalog("../../configs/basic.yaml")
	require.NoError(t, err)
	pub := &recordingPublisher{}
	a := newAgg(t, cat, Options{Publisher: pub})

	require.NoError(t, a.Tick(context.Background()))
	assert.Len(t, pub.all(), 2)
	assert.Equal(t, 2*time.Second, a.Interval())
}

func TestTick_SnapshotMatchesLastPublished(t *testing.T) {
	pub := &recordingPublisher{}
	a := newAgg(t, config.DefaultCatalog(), Options{Publisher: pub})
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, a.Tick(ctx))
	}

	latestPrice := map[string]model.PriceUpdate{}
	latestPos := map[string]model.PositionUpdate{}
	for _, ev := range pub.all() {
		switch e := ev.(type) {
		case model.PriceUpdate:
			latestPrice[e.SeriesID] = e
		case model.PositionUpdate:
			latestPos[e.PortfolioID] = e
		}
	}

	snap := a.Snapshot()
	for id, pu := range latestPrice {
		assert.Equal(t, pu.Value, snap.Prices[id].Price, id)
		assert.Equal(t, model.FormatTS(pu.Timestamp), snap.Prices[id].Timestamp, id)
	}
	for id, pos := range latestPos {
		assert.Equal(t, pos.Position, snap.Positions[id], id)
	}
}

func TestTick_InvariantsAcrossSeeds(t *testing.T) {
	ctx := context.Background()
	for seed := int64(1); seed <= 10; seed++ {
		a := newAgg(t, config.DefaultCatalog(), Options{RNG: randwalk.NewSource(seed)})
		for i := 0; i < 500; i++ {
			require.NoError(t, a.Tick(ctx))
		}
		for _, s := range a.series {
			require.True(t, s.idx.InRange(), "seed=%d %s=%f", seed, s.idx.ID, s.idx.Value)
		}
		for _, p := range a.portfolios {
			require.True(t, p.Oscillator.InRange(), "seed=%d %s osc=%f", seed, p.ID, p.Oscillator.Value)
			require.GreaterOrEqual(t, p.Holdings, 0.0)
			require.GreaterOrEqual(t, p.Cash, 0.0)
			price := a.byID[p.Underlying].idx.Value
			require.InDelta(t, p.Cash+p.Holdings*price, p.Value, 1e-6)
		}
	}
}

func TestTick_RecordsExecutedTrades(t *testing.T) {
	trades := &tradeLog{}
	reg := prometheus.NewRegistry()
	a := newAgg(t, config.DefaultCatalog(), Options{Trades: trades, Metrics: metrics.New(reg)})

	a.portfolios[0].Oscillator.Value = 90 // RSI_Gold_mtm: stays above 65 after a ±3 step
	require.NoError(t, a.Tick(context.Background()))

	require.Len(t, trades.trades, 1)
	tr := trades.trades[0]
	assert.Equal(t, "RSI_Gold_mtm", tr.PortfolioID)
	assert.Equal(t, model.ActionBuy, tr.Action)
	assert.Equal(t, 1.0, tr.Units)
	assert.InDelta(t, 7000-tr.Price, tr.Cash, 1e-9)
}

func TestTick_RecoversPanic(t *testing.T) {
	pub := &recordingPublisher{panics: 1}
	a := newAgg(t, config.DefaultCatalog(), Options{Publisher: pub})
	ctx := context.Background()

	err := a.Tick(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher exploded")

	// state advanced by the faulted tick is kept and ticking resumes
	require.NoError(t, a.Tick(ctx))
	assert.Equal(t, uint64(2), a.tick)
	assert.NotEmpty(t, pub.all())
}

func TestTick_QueuesEveryRecordPerSink(t *testing.T) {
	s1, s2 := &fakeSink{name: "a"}, &fakeSink{name: "b"}
	a := newAgg(t, config.DefaultCatalog(), Options{Sinks: []model.Sink{s1, s2}})

	require.NoError(t, a.Tick(context.Background()))
	for _, p := range a.persisters {
		assert.Equal(t, 6, p.queue.Len(), p.sink.Name())
	}
}

func TestPersister_OneReconnectNoRetry(t *testing.T) {
	sink := &fakeSink{name: "flaky", fail: true}
	reg := prometheus.NewRegistry()
	h := metrics.NewHealthStatus(time.Second)
	p := newPersister(sink, 4, metrics.New(reg), h)

	p.write(context.Background(), job{ctx: context.Background(), rec: model.SeriesRecord{ID: "Gold"}})

	upserts, reconnects, _ := sink.counts()
	assert.Equal(t, 1, upserts)
	assert.Equal(t, 1, reconnects)
	r, _ := h.Snapshot()
	assert.True(t, r.Sinks["flaky"].OK, "successful reconnect clears the sink error")
}

func TestPersister_RefusedWriteSkipsReconnect(t *testing.T) {
	sink := &fakeSink{name: "redis", fail: true, err: fmt.Errorf("breaker open: %w", model.ErrSinkUnavailable)}
	reg := prometheus.NewRegistry()
	h := metrics.NewHealthStatus(time.Second)
	p := newPersister(sink, 4, metrics.New(reg), h)

	for i := 0; i < 3; i++ {
		p.write(context.Background(), job{ctx: context.Background(), rec: model.SeriesRecord{ID: "Gold"}})
	}

	upserts, reconnects, _ := sink.counts()
	assert.Equal(t, 3, upserts)
	assert.Equal(t, 0, reconnects)
	r, _ := h.Snapshot()
	assert.False(t, r.Sinks["redis"].OK)

	// the next accepted write marks the sink up again
	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	p.write(context.Background(), job{ctx: context.Background(), rec: model.SeriesRecord{ID: "Gold"}})
	r, _ = h.Snapshot()
	assert.True(t, r.Sinks["redis"].OK)
}

func TestPersister_DropsWhenFull(t *testing.T) {
	sink := &fakeSink{name: "slow"}
	p := newPersister(sink, 1, nil, nil)
	ctx := context.Background()

	p.enqueue(ctx, model.SeriesRecord{ID: "Gold"})
	p.enqueue(ctx, model.SeriesRecord{ID: "Silver"}) // dropped, must not block

	assert.Equal(t, 1, p.queue.Len())
	assert.Equal(t, uint64(1), p.queue.Overflow())
}

func TestSeed_ResetsThenUpsertsAll(t *testing.T) {
	sink := &fakeSink{name: "db"}
	a := newAgg(t, config.DefaultCatalog(), Options{Sinks: []model.Sink{sink}})

	require.NoError(t, a.Seed(context.Background(), true))
	upserts, _, resets := sink.counts()
	assert.Equal(t, 1, resets)
	assert.Equal(t, 6, upserts)
	assert.Equal(t, "Gold", sink.upserts[0].ID)
	assert.Equal(t, "RSI_Silver_ctn", sink.upserts[5].ID)

	require.NoError(t, a.Seed(context.Background(), false))
	_, _, resets = sink.counts()
	assert.Equal(t, 1, resets)
}

func TestSeed_FailureIsReturned(t *testing.T) {
	sink := &fakeSink{name: "down", fail: true}
	a := newAgg(t, config.DefaultCatalog(), Options{Sinks: []model.Sink{sink}})
	assert.Error(t, a.Seed(context.Background(), false))
}

func TestRun_TicksImmediatelyAndPersists(t *testing.T) {
	cat := config.DefaultCatalog()
	cat.TickInterval = time.Hour
	pub := &recordingPublisher{}
	sink := &fakeSink{name: "db"}
	a := newAgg(t, cat, Options{Publisher: pub, Sinks: []model.Sink{sink}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { a.Run(ctx); close(done) }()

	assert.Eventually(t, func() bool {
		n, _, _ := sink.counts()
		return len(pub.all()) == 10 && n == 6
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BacksOffAfterFault(t *testing.T) {
	cat := config.DefaultCatalog()
	cat.TickInterval = 20 * time.Millisecond
	pub := &recordingPublisher{panics: 1}
	a := newAgg(t, cat, Options{Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go a.Run(ctx)

	require.Eventually(t, func() bool { return len(pub.all()) > 0 }, 2*time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), BackoffFactor*cat.TickInterval-5*time.Millisecond)
}
