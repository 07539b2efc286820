package model

import "fmt"

// StrategyKind selects which trading rule drives a portfolio.
type StrategyKind int

const (
	Momentum StrategyKind = iota
	Contrarian
)

func (s StrategyKind) String() string {
	switch s {
	case Momentum:
		return "momentum"
	case Contrarian:
		return "contrarian"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a catalog name onto a StrategyKind.
func ParseStrategy(s string) (StrategyKind, error) {
	switch s {
	case "momentum", "mtm":
		return Momentum, nil
	case "contrarian", "ctn":
		return Contrarian, nil
	}
	return 0, fmt.Errorf("unknown strategy %q", s)
}

// Oscillator bounds and starting point shared by every portfolio.
const (
	OscillatorMin  = 0.0
	OscillatorMax  = 100.0
	OscillatorSeed = 50.0
	OscillatorStep = 3.0
)

// Portfolio is one synthetic strategy bound to one underlying price index.
//
// Underlying is a lookup key, not an owned reference. HoldingsField is the wire
// name of the holdings attribute ("gold_positions", ...) fixed at construction.
type Portfolio struct {
	ID            string
	Underlying    string
	Strategy      StrategyKind
	HoldingsField string

	Cash       float64
	Holdings   float64
	Oscillator *Index
	Value      float64
}

// PortfolioSpec is the declarative description a Portfolio is seeded from.
type PortfolioSpec struct {
	ID            string
	Underlying    string
	Strategy      StrategyKind
	HoldingsField string
	Cash          float64
	Notional      float64
}

// NewPortfolio seeds a portfolio: Cash from the spec and Holdings = Notional / price.
func NewPortfolio(spec PortfolioSpec, underlyingPrice float64) (*Portfolio, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("portfolio: empty id")
	}
	if spec.HoldingsField == "" {
		return nil, fmt.Errorf("portfolio %s: empty holdings field", spec.ID)
	}
	if underlyingPrice <= 0 {
		return nil, fmt.Errorf("portfolio %s: non-positive seed price %.4f", spec.ID, underlyingPrice)
	}
	if spec.Cash < 0 || spec.Notional < 0 {
		return nil, fmt.Errorf("portfolio %s: negative cash or notional", spec.ID)
	}
	osc, err := NewIndex(spec.ID+".osc", KindOscillator, OscillatorSeed, OscillatorMin, OscillatorMax, OscillatorStep)
	if err != nil {
		return nil, err
	}
	p := &Portfolio{
		ID:            spec.ID,
		Underlying:    spec.Underlying,
		Strategy:      spec.Strategy,
		HoldingsField: spec.HoldingsField,
		Cash:          spec.Cash,
		Holdings:      spec.Notional / underlyingPrice,
		Oscillator:    osc,
	}
	p.Revalue(underlyingPrice)
	return p, nil
}

// Valuation returns cash plus holdings marked at price.
func (p *Portfolio) Valuation(price float64) float64 {
	return p.Cash + p.Holdings*price
}

// Revalue recomputes and stores the portfolio value at price.
func (p *Portfolio) Revalue(price float64) float64 {
	p.Value = p.Valuation(price)
	return p.Value
}

// Position returns the holdings/cash pair as broadcast in position messages.
func (p *Portfolio) Position() Position {
	return Position{Field: p.HoldingsField, Holdings: p.Holdings, Cash: p.Cash}
}
