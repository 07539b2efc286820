package model

import (
	"encoding/json"
	"time"
)

// Wire message types.
const (
	TypeSnapshot          = "snapshot"
	TypePositionsSnapshot = "positions_snapshot"
	TypePriceUpdate       = "price_update"
	TypePositionUpdate    = "position_update"
)

// Event is an update pushed to subscribers.
type Event interface {
	Type() string
	Data() any
}

// PriceUpdate carries the new resting value of one series.
type PriceUpdate struct {
	SeriesID  string
	Value     float64
	Timestamp time.Time
}

func (PriceUpdate) Type() string { return TypePriceUpdate }

func (u PriceUpdate) Data() any {
	return map[string]any{
		"index_id":  u.SeriesID,
		"price":     u.Value,
		"timestamp": FormatTS(u.Timestamp),
	}
}

// PositionUpdate carries a portfolio's holdings and cash after a tick.
type PositionUpdate struct {
	PortfolioID string
	Position    Position
	Timestamp   time.Time
}

func (PositionUpdate) Type() string { return TypePositionUpdate }

func (u PositionUpdate) Data() any {
	return map[string]any{
		"index_id":       u.PortfolioID,
		u.Position.Field: u.Position.Holdings,
		"cash_balance":   u.Position.Cash,
		"timestamp":      FormatTS(u.Timestamp),
	}
}

// PricePoint is one entry of the snapshot message.
type PricePoint struct {
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// Snapshot is the full index state sent to a new subscriber.
type Snapshot struct {
	Prices    map[string]PricePoint
	Positions map[string]Position
}

// Envelope is the {type, data} frame every message travels in.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encode wraps an event in its envelope and marshals it.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(Envelope{Type: e.Type(), Data: e.Data()})
}

// EncodeSnapshot returns the snapshot and positions_snapshot frames, in send order.
func EncodeSnapshot(s Snapshot) ([][]byte, error) {
	prices, err := json.Marshal(Envelope{Type: TypeSnapshot, Data: s.Prices})
	if err != nil {
		return nil, err
	}
	positions := s.Positions
	if positions == nil {
		positions = map[string]Position{}
	}
	pos, err := json.Marshal(Envelope{Type: TypePositionsSnapshot, Data: positions})
	if err != nil {
		return nil, err
	}
	return [][]byte{prices, pos}, nil
}

// FormatTS renders t as ISO-8601 UTC.
func FormatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
