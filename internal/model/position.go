package model

import "encoding/json"

// Position is the holdings/cash pair of a portfolio. Field carries the wire name
// of the holdings attribute, so one type serves every underlying.
type Position struct {
	Field    string
	Holdings float64
	Cash     float64
}

// MarshalJSON renders {"<field>": holdings, "cash_balance": cash}.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]float64{
		p.Field:        p.Holdings,
		"cash_balance": p.Cash,
	})
}
