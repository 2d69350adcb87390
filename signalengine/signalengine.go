// Package signalengine is the Signal Engine (spec §4.7): per-tick,
// per-strategy evaluation of ticks and derived indicators into typed
// Signals, gated by disparity and deduplicated by cooldown.
//
// Grounded on the teacher's strategy/interface.go Strategy/SignalBuilder
// pattern (predicate functions producing a typed signal with strength and
// reason) generalized from Polymarket YES/NO markets to the spec's
// change/technical/disparity predicates, with thresholds from
// original_source/core/signal_processor.py and the disparity-gate
// formulas from original_source/core/trading/trade_executor.py's
// _validate_buy_signal_enhanced.
package signalengine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/types"
)

// TechSignal is the coarse technical-indicator verdict a strategy's
// predicate gates on.
type TechSignal string

const (
	TechBuy  TechSignal = "BUY"
	TechHold TechSignal = "HOLD"
	TechSell TechSignal = "SELL"
)

// Input is the normalized per-tick evaluation context for one symbol.
type Input struct {
	Symbol       types.Symbol
	StrategyTag  string
	ChangePct    float64
	Volume       int64
	Tech         TechSignal
	TechScore    float64
	Price        decimal.Decimal
	D5, D20, D60 float64 // disparity ratios (%), price vs moving average
	Ts           time.Time
}

const (
	overboughtD5  = 135.0
	overboughtD20 = 125.0
	oversoldD20   = 90.0
)

// techBonus rewards a BUY verdict over a HOLD one; matches the spec's
// "tech_bonus" term without spelling out a separate magic constant per
// strategy.
func techBonus(tech TechSignal) float64 {
	if tech == TechBuy {
		return 0.1
	}
	return 0
}

func clampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Evaluate runs every registered strategy predicate against in and
// returns the signals that pass both their own gate and the universal
// disparity gate.
func Evaluate(in Input) []types.Signal {
	if !passesDisparityGate(in) {
		return nil
	}

	var out []types.Signal
	for tag, predicate := range predicates {
		if in.StrategyTag != "" && in.StrategyTag != tag {
			continue
		}
		strength, ok := predicate(in)
		if !ok {
			continue
		}
		out = append(out, types.Signal{
			Symbol: in.Symbol, Side: types.SideBuy, StrategyTag: tag,
			Strength: clampStrength(strength), Price: in.Price,
			Reason: tag + " predicate matched", Ts: in.Ts,
		})
	}
	return out
}

// passesDisparityGate applies the universal overbought rejection, plus
// the disparity-reversal strategy's extra oversold requirement.
func passesDisparityGate(in Input) bool {
	if in.D5 >= overboughtD5 || in.D20 >= overboughtD20 {
		return false
	}
	if in.StrategyTag == "disparity_reversal" {
		return in.D20 <= 90 && in.D60 <= 95
	}
	return true
}

type predicate func(Input) (float64, bool)

var predicates = map[string]predicate{
	"gap":                gapBuy,
	"volume_breakout":    volumeBreakoutBuy,
	"momentum":           momentumBuy,
	"pure_technical":     pureTechnicalBuy,
	"disparity_reversal": disparityReversalBuy,
}

func gapBuy(in Input) (float64, bool) {
	if in.ChangePct <= 1.8 {
		return 0, false
	}
	if in.Tech != TechBuy && in.Tech != TechHold {
		return 0, false
	}
	return min1(in.ChangePct/8) + techBonus(in.Tech), true
}

func volumeBreakoutBuy(in Input) (float64, bool) {
	if in.ChangePct <= 1.2 || in.Volume <= 0 {
		return 0, false
	}
	if in.Tech != TechBuy && in.Tech != TechHold {
		return 0, false
	}
	return min1(in.ChangePct/6) + techBonus(in.Tech), true
}

func momentumBuy(in Input) (float64, bool) {
	if in.ChangePct <= 0.6 {
		return 0, false
	}
	if in.Tech != TechBuy && in.Tech != TechHold {
		return 0, false
	}
	return min1(in.ChangePct/4) + techBonus(in.Tech), true
}

// disparityReversalBuy is the oversold-buy counterpart to the disparity
// gate's reversal relaxation: d20<=90 and d60<=95 both already passed in
// passesDisparityGate, so strength scales with how oversold d20 is.
func disparityReversalBuy(in Input) (float64, bool) {
	if in.D20 > oversoldD20 || in.Tech == TechSell {
		return 0, false
	}
	return min1((oversoldD20-in.D20)/30) + techBonus(in.Tech), true
}

func pureTechnicalBuy(in Input) (float64, bool) {
	if in.Tech != TechBuy || in.TechScore <= 70 || in.ChangePct <= 0.5 {
		return 0, false
	}
	return min1(in.TechScore / 100), true
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// Deduplicator enforces the per-(symbol,side) cooldown (spec §4.7):
// 300s general cooldown, identical side within 60s always blocked.
type Deduplicator struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// NewDeduplicator builds an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{last: make(map[string]time.Time)}
}

const (
	hardBlockWindow = 60 * time.Second
	cooldownWindow  = 300 * time.Second
)

// Allow reports whether a (symbol, side) emission is allowed at now, and
// if so records it. Cross-side emissions for the same symbol are always
// allowed independent of each other's cooldowns.
func (d *Deduplicator) Allow(symbol types.Symbol, side types.Side, now time.Time) bool {
	key := string(symbol) + "|" + string(side)

	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.last[key]
	if ok {
		elapsed := now.Sub(last)
		if elapsed < hardBlockWindow {
			return false
		}
		if elapsed < cooldownWindow {
			return false
		}
	}
	d.last[key] = now
	return true
}
