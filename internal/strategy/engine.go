// Package strategy provides the oscillator-threshold trading rule shared by
// every synthetic portfolio.
//
// Momentum buys when the oscillator is above the upper threshold and sells when
// it is below the lower one; Contrarian does the mirror image. Comparisons are
// strict, so an oscillator sitting exactly on a threshold never trades.
package strategy

import (
	"feed-engine/internal/model"
)

// Thresholds on the portfolio oscillator.
const (
	UpperThreshold = 65.0
	LowerThreshold = 35.0
)

// TradeUnits is the fixed size of every executed trade.
const TradeUnits = 1.0

// Suppression reasons reported in Outcome.Reason.
const (
	ReasonInsufficientCash = "insufficient_cash"
	ReasonNoHoldings       = "no_holdings"
)

// Outcome describes what one evaluation did to a portfolio.
type Outcome struct {
	Action    model.Action // what the rule asked for
	Executed  bool
	Units     float64 // units traded when Executed
	Reason    string  // set when Action != NONE and the trade was suppressed
	Valuation float64
}

// Suppressed reports whether the rule fired but a guard blocked the trade.
func (o Outcome) Suppressed() bool {
	return o.Action != model.ActionNone && !o.Executed
}

// Decide maps a strategy and oscillator reading onto an action.
func Decide(kind model.StrategyKind, osc float64) model.Action {
	var high, low model.Action
	switch kind {
	case model.Momentum:
		high, low = model.ActionBuy, model.ActionSell
	case model.Contrarian:
		high, low = model.ActionSell, model.ActionBuy
	default:
		return model.ActionNone
	}
	switch {
	case osc > UpperThreshold:
		return high
	case osc < LowerThreshold:
		return low
	}
	return model.ActionNone
}

// Apply evaluates the portfolio's rule against its current oscillator, executes
// at most one unit at price, and stores the new valuation on the portfolio.
//
// A buy needs Cash >= price and a sell needs Holdings > 0; otherwise the trade
// is skipped and the reason recorded. Skipping is not an error.
func Apply(p *model.Portfolio, price float64) Outcome {
	out := Outcome{Action: Decide(p.Strategy, p.Oscillator.Value)}

	switch out.Action {
	case model.ActionBuy:
		cost := TradeUnits * price
		if p.Cash >= cost {
			p.Cash -= cost
			p.Holdings += TradeUnits
			out.Executed = true
			out.Units = TradeUnits
		} else {
			out.Reason = ReasonInsufficientCash
		}
	case model.ActionSell:
		if p.Holdings > 0 {
			units := TradeUnits
			// fractional seed holdings can be below one unit
			if p.Holdings < units {
				units = p.Holdings
			}
			p.Holdings -= units
			p.Cash += units * price
			out.Executed = true
			out.Units = units
		} else {
			out.Reason = ReasonNoHoldings
		}
	}

	out.Valuation = p.Revalue(price)
	return out
}
