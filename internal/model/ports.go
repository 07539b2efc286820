package model

import (
	"context"
	"errors"
)

// ErrSinkUnavailable marks a write a sink refused without attempting it, e.g.
// while its circuit breaker is open. Reconnecting does not help.
var ErrSinkUnavailable = errors.New("sink unavailable")

// ── Port Interfaces ──
// These decouple the simulation from the transport and storage implementations
// (websocket hub, Postgres, Redis, SQLite).

// Sink mirrors the latest value of a series into durable storage.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Upsert inserts or replaces the record keyed by rec.ID.
	Upsert(ctx context.Context, rec SeriesRecord) error

	// Reconnect re-establishes the underlying client after a failed write.
	Reconnect(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

// Resetter is implemented by sinks that can clear their table before a re-seed.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Publisher fans an event out to every live subscriber.
type Publisher interface {
	Publish(e Event)
}

// TradeRecorder journals executed trades.
type TradeRecorder interface {
	RecordTrade(t Trade) error
}
