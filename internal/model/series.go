package model

import "time"

// SeriesRecord is the durable row mirrored for every series on every tick.
type SeriesRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CurrentPrice float64   `json:"current_price"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Action is the outcome of a strategy decision.
type Action string

const (
	ActionNone Action = "NONE"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Trade is an executed fill against a portfolio.
type Trade struct {
	PortfolioID string       `json:"portfolio_id"`
	Strategy    StrategyKind `json:"-"`
	Action      Action       `json:"action"`
	Units       float64      `json:"units"`
	Price       float64      `json:"price"`
	Oscillator  float64      `json:"oscillator"`
	Holdings    float64      `json:"holdings"`
	Cash        float64      `json:"cash_balance"`
	At          time.Time    `json:"at"`
}
