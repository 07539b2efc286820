package sqlite

import (
	"context"
	"fmt"
	"time"

	"feed-engine/internal/model"
)

// TradeRecord is a row of the trades table.
type TradeRecord struct {
	ID          int64   `json:"id"`
	PortfolioID string  `json:"portfolio_id"`
	Strategy    string  `json:"strategy"`
	Action      string  `json:"action"`
	Units       float64 `json:"units"`
	Price       float64 `json:"price"`
	Oscillator  float64 `json:"oscillator"`
	Holdings    float64 `json:"holdings"`
	Cash        float64 `json:"cash_balance"`
	ExecutedAt  string  `json:"executed_at"`
}

// Records returns the mirrored indices rows ordered by id.
func (w *Writer) Records(ctx context.Context) ([]model.SeriesRecord, error) {
	rows, err := w.DB().QueryContext(ctx,
		`SELECT id, name, current_price, updated_at FROM indices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query indices: %w", err)
	}
	defer rows.Close()

	var out []model.SeriesRecord
	for rows.Next() {
		var (
			r  model.SeriesRecord
			ts string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.CurrentPrice, &ts); err != nil {
			return nil, fmt.Errorf("sqlite scan indices: %w", err)
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trades returns the last limit trades, newest first. An empty portfolio
// matches every portfolio.
func (w *Writer) Trades(ctx context.Context, portfolio string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB().QueryContext(ctx,
		`SELECT id, portfolio_id, strategy, action, units, price, oscillator, holdings, cash_balance, executed_at
		 FROM trades WHERE (? = '' OR portfolio_id = ?) ORDER BY id DESC LIMIT ?`,
		portfolio, portfolio, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.PortfolioID, &t.Strategy, &t.Action, &t.Units,
			&t.Price, &t.Oscillator, &t.Holdings, &t.Cash, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan trades: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
