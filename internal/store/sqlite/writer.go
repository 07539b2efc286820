package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"

	"feed-engine/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/feed.db"
}

// Writer keeps a local mirror of the indices table plus the trade journal.
// It uses a single connection, so SQLite's one-writer rule holds.
type Writer struct {
	cfg WriterConfig
	mu  sync.RWMutex
	db  *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.db
}

// New opens the database with WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{cfg: cfg, db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS indices (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			current_price REAL NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			portfolio_id TEXT    NOT NULL,
			strategy     TEXT    NOT NULL,
			action       TEXT    NOT NULL,
			units        REAL    NOT NULL,
			price        REAL    NOT NULL,
			oscillator   REAL    NOT NULL,
			holdings     REAL    NOT NULL,
			cash_balance REAL    NOT NULL,
			executed_at  TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_portfolio ON trades(portfolio_id);
	`)
	return err
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "sqlite" }

// Upsert inserts or replaces the row keyed by rec.ID.
func (w *Writer) Upsert(ctx context.Context, rec model.SeriesRecord) error {
	_, err := w.DB().ExecContext(ctx,
		`INSERT OR REPLACE INTO indices (id, name, current_price, updated_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.CurrentPrice, model.FormatTS(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Reset clears the indices table. The trade journal is kept.
func (w *Writer) Reset(ctx context.Context) error {
	if _, err := w.DB().ExecContext(ctx, `DELETE FROM indices`); err != nil {
		return fmt.Errorf("sqlite reset: %w", err)
	}
	return nil
}

// Reconnect closes and reopens the database file.
func (w *Writer) Reconnect(ctx context.Context) error {
	fresh, err := open(w.cfg.DBPath)
	if err != nil {
		return err
	}
	if err := fresh.PingContext(ctx); err != nil {
		fresh.Close()
		return fmt.Errorf("sqlite ping: %w", err)
	}

	w.mu.Lock()
	old := w.db
	w.db = fresh
	w.mu.Unlock()

	old.Close()
	log.Printf("[sqlite] reopened %s", w.cfg.DBPath)
	return nil
}

// Ping probes the database for the liveness checker.
func (w *Writer) Ping(ctx context.Context) error {
	return w.DB().PingContext(ctx)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.DB().Close()
}
