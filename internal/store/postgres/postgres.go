// Package postgres mirrors series values into the shared `indices` table that
// dashboards read from.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"feed-engine/internal/model"
)

const (
	createTableSQL = `
        CREATE TABLE IF NOT EXISTS indices (
            id            TEXT PRIMARY KEY,
            name          TEXT NOT NULL,
            current_price DOUBLE PRECISION NOT NULL,
            updated_at    TIMESTAMPTZ NOT NULL
        )`

	upsertSQL = `
        INSERT INTO indices (id, name, current_price, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET
            name          = EXCLUDED.name,
            current_price = EXCLUDED.current_price,
            updated_at    = EXCLUDED.updated_at`

	resetSQL = `DELETE FROM indices`

	selectSQL = `SELECT id, name, current_price, updated_at FROM indices ORDER BY id`
)

var errNoDSN = errors.New("postgres: empty DSN")

// Store is a pgx-backed Sink.
type Store struct {
	dsn string

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

// New connects, pings and ensures the indices table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errNoDSN
	}
	pool, err := connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	log.Printf("[postgres] connected")
	return &Store{dsn: dsn, pool: pool}, nil
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (s *Store) db() *pgxpool.Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "postgres" }

// Upsert writes rec, replacing any row with the same id.
func (s *Store) Upsert(ctx context.Context, rec model.SeriesRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	if _, err := s.db().Exec(ctx, upsertSQL, rec.ID, rec.Name, rec.CurrentPrice, rec.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("postgres upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Reset deletes every row so a fresh boot re-seeds from the catalog.
func (s *Store) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	tag, err := s.db().Exec(ctx, resetSQL)
	if err != nil {
		return fmt.Errorf("postgres reset: %w", err)
	}
	log.Printf("[postgres] cleared %d rows", tag.RowsAffected())
	return nil
}

// Records returns every row ordered by id.
func (s *Store) Records(ctx context.Context) ([]model.SeriesRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	rows, err := s.db().Query(ctx, selectSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres query: %w", err)
	}
	defer rows.Close()

	var out []model.SeriesRecord
	for rows.Next() {
		var r model.SeriesRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.CurrentPrice, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Reconnect replaces the pool with a freshly connected one.
func (s *Store) Reconnect(ctx context.Context) error {
	fresh, err := connect(ctx, s.dsn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.pool
	s.pool = fresh
	s.mu.Unlock()

	old.Close()
	log.Printf("[postgres] reconnected")
	return nil
}

// Ping probes the database for the liveness checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.db().Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db().Close()
	return nil
}
