package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"feed-engine/internal/logger"
	"feed-engine/internal/metrics"
	"feed-engine/internal/model"
	"feed-engine/internal/ringbuf"
)

type job struct {
	ctx context.Context
	rec model.SeriesRecord
}

// persister drains one sink's queue so a slow or dead sink never holds up a
// tick or another sink. Tick is the only producer, the worker the only
// consumer.
type persister struct {
	sink   model.Sink
	queue  *ringbuf.Ring[job]
	m      *metrics.Metrics
	health *metrics.HealthStatus

	failing bool // last write left the sink marked down; worker-owned
}

func newPersister(s model.Sink, size int, m *metrics.Metrics, h *metrics.HealthStatus) *persister {
	return &persister{sink: s, queue: ringbuf.New[job](size), m: m, health: h}
}

// enqueue hands rec to the worker, dropping it if the queue is full. The next
// tick carries a newer value for the same id anyway.
func (p *persister) enqueue(ctx context.Context, rec model.SeriesRecord) {
	if !p.queue.Push(job{ctx: ctx, rec: rec}) {
		slog.Warn("persist queue full, dropping record",
			append(logger.LogWithTick(ctx), "sink", p.sink.Name(), "id", rec.ID)...)
		if p.m != nil {
			p.m.PersistErrors.WithLabelValues(p.sink.Name()).Inc()
		}
	}
}

func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.queue.Ready():
			for {
				j, ok := p.queue.Pop()
				if !ok || ctx.Err() != nil {
					break
				}
				p.write(ctx, j)
			}
		}
	}
}

// write upserts once. On failure it reconnects once and moves on; the record
// is not retried. A sink that refused the write outright is not reconnected.
func (p *persister) write(ctx context.Context, j job) {
	name := p.sink.Name()
	start := time.Now()
	err := p.sink.Upsert(ctx, j.rec)
	if p.m != nil {
		p.m.PersistDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		if p.failing {
			p.markDown(nil)
		}
		return
	}

	if errors.Is(err, model.ErrSinkUnavailable) {
		slog.Debug("persist skipped, sink unavailable",
			append(logger.LogWithTick(j.ctx), "sink", name, "id", j.rec.ID)...)
		if p.m != nil {
			p.m.PersistErrors.WithLabelValues(name).Inc()
		}
		p.markDown(err)
		return
	}

	slog.Warn("persist failed, reconnecting",
		append(logger.LogWithTick(j.ctx), "sink", name, "id", j.rec.ID, "error", err)...)
	if p.m != nil {
		p.m.PersistErrors.WithLabelValues(name).Inc()
		p.m.PersistReconnects.WithLabelValues(name).Inc()
	}
	p.markDown(err)

	if rerr := p.sink.Reconnect(ctx); rerr != nil {
		slog.Error("reconnect failed", append(logger.LogWithTick(j.ctx), "sink", name, "error", rerr)...)
		return
	}
	p.markDown(nil)
}

// markDown records the sink's health; a nil err marks it up again.
func (p *persister) markDown(err error) {
	p.failing = err != nil
	if p.health != nil {
		p.health.SetSinkError(p.sink.Name(), err)
	}
}
