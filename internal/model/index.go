package model

import (
	"errors"
	"fmt"
)

// ErrUnknownIndex is returned when a lookup names a series that does not exist.
var ErrUnknownIndex = errors.New("unknown index")

// IndexKind distinguishes raw prices from bounded oscillators.
type IndexKind int

const (
	KindRawPrice IndexKind = iota
	KindOscillator
)

func (k IndexKind) String() string {
	switch k {
	case KindRawPrice:
		return "raw_price"
	case KindOscillator:
		return "oscillator"
	default:
		return "unknown"
	}
}

// Index is one simulated scalar series: a metal spot price or an oscillator reading.
//
// Value always stays within [Min, Max]; the aggregator is the only writer.
type Index struct {
	ID    string    `json:"id"`
	Kind  IndexKind `json:"kind"`
	Value float64   `json:"value"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Step  float64   `json:"step"` // half-width of the uniform walk delta
}

// NewIndex builds an index seeded at value. The seed is clamped into range.
func NewIndex(id string, kind IndexKind, seed, min, max, step float64) (*Index, error) {
	if id == "" {
		return nil, fmt.Errorf("index: empty id")
	}
	if min > max {
		return nil, fmt.Errorf("index %s: min %.4f > max %.4f", id, min, max)
	}
	if step < 0 {
		return nil, fmt.Errorf("index %s: negative step %.4f", id, step)
	}
	v := seed
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return &Index{ID: id, Kind: kind, Value: v, Min: min, Max: max, Step: step}, nil
}

// InRange reports whether the current value respects the configured bounds.
func (i *Index) InRange() bool {
	return i.Value >= i.Min && i.Value <= i.Max
}
