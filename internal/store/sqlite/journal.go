package sqlite

import (
	"fmt"

	"feed-engine/internal/model"
)

// RecordTrade appends an executed trade to the journal.
func (w *Writer) RecordTrade(t model.Trade) error {
	_, err := w.DB().Exec(
		`INSERT INTO trades (portfolio_id, strategy, action, units, price, oscillator, holdings, cash_balance, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PortfolioID,
		t.Strategy.String(),
		string(t.Action),
		t.Units,
		t.Price,
		t.Oscillator,
		t.Holdings,
		t.Cash,
		model.FormatTS(t.At),
	)
	if err != nil {
		return fmt.Errorf("sqlite record trade %s: %w", t.PortfolioID, err)
	}
	return nil
}
