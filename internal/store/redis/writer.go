package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"feed-engine/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	latestKeyPrefix  = "index:latest:"
	channelPrefix    = "pub:index:"
	defaultLatestTTL = 30 * time.Minute
)

// WriterConfig configures the Redis sink.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// Breaker tuning; zero values pick 5 failures / 10s.
	MaxFailures  int
	ResetTimeout time.Duration
}

// Writer mirrors the latest value of every series into Redis and republishes
// it on a per-series channel for out-of-process consumers.
type Writer struct {
	cfg     WriterConfig
	mu      sync.RWMutex
	client  *goredis.Client
	breaker *CircuitBreaker
}

// LatestKey is the key holding the latest record of a series.
func LatestKey(id string) string { return latestKeyPrefix + id }

// Channel is the pub/sub channel a series is republished on.
func Channel(id string) string { return channelPrefix + id }

// New creates a Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	w := newWriter(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.Ping(ctx).Err(); err != nil {
		w.client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return w, nil
}

func newWriter(cfg WriterConfig) *Writer {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	return &Writer{
		cfg:     cfg,
		client:  dial(cfg),
		breaker: NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
	}
}

func dial(cfg WriterConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		MaxRetries:  -1, // the aggregator owns the reconnect policy
	})
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "redis" }

// Breaker exposes the circuit breaker for metrics wiring.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// Client returns the current Redis client.
func (w *Writer) Client() *goredis.Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.client
}

// EncodeRecord renders the JSON value stored and published for a series.
func EncodeRecord(rec model.SeriesRecord) (string, error) {
	b, err := json.Marshal(struct {
		ID           string  `json:"id"`
		Name         string  `json:"name"`
		CurrentPrice float64 `json:"current_price"`
		UpdatedAt    string  `json:"updated_at"`
	}{rec.ID, rec.Name, rec.CurrentPrice, model.FormatTS(rec.UpdatedAt)})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Upsert SETs the latest record and PUBLISHes it in one pipeline.
func (w *Writer) Upsert(ctx context.Context, rec model.SeriesRecord) error {
	payload, err := EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", rec.ID, err)
	}
	client := w.Client()
	err = w.breaker.Execute(func() error {
		pipe := client.Pipeline()
		pipe.Set(ctx, LatestKey(rec.ID), payload, defaultLatestTTL)
		pipe.Publish(ctx, Channel(rec.ID), payload)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("redis upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Reset deletes every latest-value key.
func (w *Writer) Reset(ctx context.Context) error {
	client := w.Client()
	iter := client.Scan(ctx, 0, latestKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	log.Printf("[redis] cleared %d latest keys", len(keys))
	return nil
}

// Reconnect replaces the client with a freshly dialled one. It does not dial
// while the breaker is open, and never closes the breaker itself: only a
// successful half-open probe does.
func (w *Writer) Reconnect(ctx context.Context) error {
	if w.breaker.CurrentState() == StateOpen {
		return fmt.Errorf("redis reconnect: %w", ErrCircuitOpen)
	}
	fresh := dial(w.cfg)
	if err := fresh.Ping(ctx).Err(); err != nil {
		fresh.Close()
		return fmt.Errorf("redis reconnect: %w", err)
	}

	w.mu.Lock()
	old := w.client
	w.client = fresh
	w.mu.Unlock()

	old.Close()
	log.Printf("[redis] reconnected to %s", w.cfg.Addr)
	return nil
}

// Ping probes the server for the liveness checker.
func (w *Writer) Ping(ctx context.Context) error {
	return w.Client().Ping(ctx).Err()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.Client().Close()
}
