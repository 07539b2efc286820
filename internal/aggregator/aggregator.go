// Package aggregator owns the simulated series and portfolios and advances them
// on a fixed tick.
//
// Each tick walks every raw price series, then every portfolio oscillator, runs
// the strategy against the fresh underlying price, publishes the resulting
// updates to subscribers and queues the new values for persistence.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"feed-engine/config"
	"feed-engine/internal/logger"
	"feed-engine/internal/metrics"
	"feed-engine/internal/model"
	"feed-engine/internal/randwalk"
	"feed-engine/internal/strategy"
)

// BackoffFactor multiplies the tick interval after a faulted tick.
const BackoffFactor = 5

// Options wires the aggregator to its collaborators. Every field except RNG is
// optional.
type Options struct {
	RNG       *rand.Rand
	Publisher model.Publisher
	Sinks     []model.Sink
	Trades    model.TradeRecorder
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Now       func() time.Time

	// QueueSize bounds the per-sink persistence queue.
	QueueSize int
}

type series struct {
	idx    *model.Index
	name   string
	lastTS time.Time
}

// Aggregator is the single writer of all simulation state.
type Aggregator struct {
	interval time.Duration

	mu         sync.RWMutex
	series     []*series
	byID       map[string]*series
	portfolios []*model.Portfolio
	valueTS    map[string]time.Time
	tick       uint64

	// serialises Tick so updates reach subscribers in tick order
	tickMu sync.Mutex

	rng        *rand.Rand
	pub        model.Publisher
	persisters []*persister
	trades     model.TradeRecorder
	m          *metrics.Metrics
	health     *metrics.HealthStatus
	now        func() time.Time
}

// New builds the initial state from a validated catalog.
func New(cat *config.Catalog, opts Options) (*Aggregator, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	if opts.RNG == nil {
		return nil, fmt.Errorf("aggregator: nil RNG")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}

	a := &Aggregator{
		interval: cat.TickInterval,
		byID:     make(map[string]*series, len(cat.Series)),
		valueTS:  make(map[string]time.Time, len(cat.Portfolios)),
		rng:      opts.RNG,
		pub:      opts.Publisher,
		trades:   opts.Trades,
		m:        opts.Metrics,
		health:   opts.Health,
		now:      opts.Now,
	}
	if a.interval <= 0 {
		a.interval = config.DefaultTickInterval
	}

	start := a.now()
	for _, e := range cat.Series {
		idx, err := model.NewIndex(e.ID, model.KindRawPrice, e.Seed, e.Min, e.Max, e.Step)
		if err != nil {
			return nil, err
		}
		name := e.Name
		if name == "" {
			name = e.ID
		}
		s := &series{idx: idx, name: name, lastTS: start}
		a.series = append(a.series, s)
		a.byID[e.ID] = s
	}

	specs, err := cat.PortfolioSpecs()
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		u, ok := a.byID[spec.Underlying]
		if !ok || u.idx.Kind != model.KindRawPrice {
			return nil, fmt.Errorf("portfolio %s: underlying %q: %w", spec.ID, spec.Underlying, model.ErrUnknownIndex)
		}
		p, err := model.NewPortfolio(spec, u.idx.Value)
		if err != nil {
			return nil, err
		}
		a.portfolios = append(a.portfolios, p)
		a.valueTS[p.ID] = start
	}

	for _, s := range opts.Sinks {
		a.persisters = append(a.persisters, newPersister(s, opts.QueueSize, a.m, a.health))
	}
	return a, nil
}

// Interval returns the tick cadence.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Snapshot returns a consistent copy of every series value (raw prices and
// portfolio valuations) and every portfolio position.
func (a *Aggregator) Snapshot() model.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := model.Snapshot{
		Prices:    make(map[string]model.PricePoint, len(a.series)+len(a.portfolios)),
		Positions: make(map[string]model.Position, len(a.portfolios)),
	}
	for _, s := range a.series {
		snap.Prices[s.idx.ID] = model.PricePoint{Price: s.idx.Value, Timestamp: model.FormatTS(s.lastTS)}
	}
	for _, p := range a.portfolios {
		snap.Prices[p.ID] = model.PricePoint{Price: p.Value, Timestamp: model.FormatTS(a.valueTS[p.ID])}
		snap.Positions[p.ID] = p.Position()
	}
	return snap
}

// Value returns the current value of a raw series or portfolio valuation.
func (a *Aggregator) Value(id string) (float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.byID[id]; ok {
		return s.idx.Value, nil
	}
	for _, p := range a.portfolios {
		if p.ID == id {
			return p.Value, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", id, model.ErrUnknownIndex)
}

// oscillator returns a portfolio's current oscillator reading.
func (a *Aggregator) oscillator(portfolioID string) (float64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, p := range a.portfolios {
		if p.ID == portfolioID {
			return p.Oscillator.Value, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", portfolioID, model.ErrUnknownIndex)
}

// Records returns the durable row for every series at its current value.
func (a *Aggregator) Records() []model.SeriesRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]model.SeriesRecord, 0, len(a.series)+len(a.portfolios))
	for _, s := range a.series {
		out = append(out, model.SeriesRecord{ID: s.idx.ID, Name: s.name, CurrentPrice: s.idx.Value, UpdatedAt: s.lastTS})
	}
	for _, p := range a.portfolios {
		out = append(out, model.SeriesRecord{ID: p.ID, Name: p.ID, CurrentPrice: p.Value, UpdatedAt: a.valueTS[p.ID]})
	}
	return out
}

// Seed writes every series once so the sinks reflect the starting state. With
// reset set, sinks that support it are cleared first.
func (a *Aggregator) Seed(ctx context.Context, reset bool) error {
	records := a.Records()
	for _, p := range a.persisters {
		if reset {
			if r, ok := p.sink.(model.Resetter); ok {
				if err := r.Reset(ctx); err != nil {
					return fmt.Errorf("reset %s: %w", p.sink.Name(), err)
				}
			}
		}
		for _, rec := range records {
			if err := p.sink.Upsert(ctx, rec); err != nil {
				return fmt.Errorf("seed %s: %w", p.sink.Name(), err)
			}
		}
		slog.Info("sink seeded", "sink", p.sink.Name(), "series", len(records), "reset", reset)
	}
	return nil
}

// Run starts the persistence workers, ticks once immediately and then on the
// interval until ctx is cancelled. A faulted tick delays the next one by
// BackoffFactor intervals; the loop never stops on its own.
func (a *Aggregator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range a.persisters {
		wg.Add(1)
		go func(p *persister) {
			defer wg.Done()
			p.run(ctx)
		}(p)
	}
	defer wg.Wait()

	slog.Info("aggregator started", "interval", a.interval.String(),
		"series", len(a.series), "portfolios", len(a.portfolios))

	timer := time.NewTimer(a.next(a.Tick(ctx)))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("aggregator stopped")
			return
		case <-timer.C:
			timer.Reset(a.next(a.Tick(ctx)))
		}
	}
}

func (a *Aggregator) next(err error) time.Duration {
	if err != nil {
		backoff := BackoffFactor * a.interval
		slog.Error("tick failed, backing off", "error", err, "backoff", backoff.String())
		return backoff
	}
	return a.interval
}

// tickResult is what one advance produced, handed out of the lock.
type tickResult struct {
	id      uint64
	at      time.Time
	events  []model.Event
	records []model.SeriesRecord
	trades  []model.Trade
	skipped []skipped
}

type skipped struct {
	portfolio string
	reason    string
}

// Tick advances the simulation once, publishes the updates and queues them for
// persistence. A panic inside the tick is recovered and returned as an error;
// state already mutated is kept.
func (a *Aggregator) Tick(ctx context.Context) (err error) {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v\n%s", r, debug.Stack())
		}
		if a.m != nil {
			a.m.TickDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				a.m.TickErrors.Inc()
			} else {
				a.m.TicksTotal.Inc()
			}
		}
	}()

	res := a.advance()
	ctx = logger.WithTickID(ctx, res.id)

	for _, ev := range res.events {
		if a.pub != nil {
			a.pub.Publish(ev)
		}
	}
	for _, rec := range res.records {
		for _, p := range a.persisters {
			p.enqueue(ctx, rec)
		}
	}
	for _, t := range res.trades {
		slog.Info("trade executed", append(logger.LogWithTick(ctx),
			"portfolio", t.PortfolioID, "strategy", t.Strategy.String(), "action", string(t.Action),
			"price", t.Price, "oscillator", t.Oscillator, "holdings", t.Holdings, "cash", t.Cash)...)
		if a.m != nil {
			a.m.TradesTotal.WithLabelValues(t.PortfolioID, string(t.Action)).Inc()
		}
		if a.trades != nil {
			if err := a.trades.RecordTrade(t); err != nil {
				slog.Warn("trade journal write failed", append(logger.LogWithTick(ctx), "error", err)...)
			}
		}
	}
	for _, s := range res.skipped {
		slog.Debug("trade suppressed", append(logger.LogWithTick(ctx), "portfolio", s.portfolio, "reason", s.reason)...)
		if a.m != nil {
			a.m.SuppressedTotal.WithLabelValues(s.portfolio, s.reason).Inc()
		}
	}

	if a.health != nil {
		a.health.SetLastTickTime(res.at)
	}
	return nil
}

// advance mutates all state for one tick under the write lock.
func (a *Aggregator) advance() tickResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.tick++
	now := a.now()
	res := tickResult{id: a.tick, at: now}

	for _, s := range a.series {
		s.idx.Value = randwalk.Step(a.rng, s.idx.Value, s.idx.Step, s.idx.Min, s.idx.Max)
		s.lastTS = now
		res.events = append(res.events, model.PriceUpdate{SeriesID: s.idx.ID, Value: s.idx.Value, Timestamp: now})
		res.records = append(res.records, model.SeriesRecord{ID: s.idx.ID, Name: s.name, CurrentPrice: s.idx.Value, UpdatedAt: now})
	}

	for _, p := range a.portfolios {
		osc := p.Oscillator
		osc.Value = randwalk.Step(a.rng, osc.Value, osc.Step, osc.Min, osc.Max)

		price := a.byID[p.Underlying].idx.Value
		out := strategy.Apply(p, price)
		a.valueTS[p.ID] = now

		if out.Executed {
			res.trades = append(res.trades, model.Trade{
				PortfolioID: p.ID,
				Strategy:    p.Strategy,
				Action:      out.Action,
				Units:       out.Units,
				Price:       price,
				Oscillator:  osc.Value,
				Holdings:    p.Holdings,
				Cash:        p.Cash,
				At:          now,
			})
		} else if out.Suppressed() {
			res.skipped = append(res.skipped, skipped{portfolio: p.ID, reason: out.Reason})
		}

		res.events = append(res.events,
			model.PriceUpdate{SeriesID: p.ID, Value: out.Valuation, Timestamp: now},
			model.PositionUpdate{PortfolioID: p.ID, Position: p.Position(), Timestamp: now},
		)
		res.records = append(res.records, model.SeriesRecord{ID: p.ID, Name: p.ID, CurrentPrice: out.Valuation, UpdatedAt: now})
	}
	return res
}
