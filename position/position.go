// Package position is the Position Manager (spec §4.10): owns open
// Positions, updates mark prices from the healthiest available source,
// derives volatility-driven exit parameters, and evaluates the six-step
// exit rule. Evaluate reports whether to exit and why; the package emits
// no sell signals and places no orders, and cmd/tradebot does not call
// Evaluate.
//
// Grounded on the teacher's risk/tp_sl.go (CheckExit first-match-wins
// evaluation, trailing-stop high-water-mark tracking) generalized from
// a flat TP/SL/trailing/max-hold check to the spec's six-step
// emergency/early/dynamic/trailing/normal/fast-take ladder and its
// multi-window disparity relaxations, with parameter formulas from
// original_source/core/position_manager.py.
package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/orders"
	"github.com/kisquant/tradebot/types"
)

// ExitParams are the volatility-derived thresholds driving the exit
// ladder, expressed as percentages (3.5 means 3.5%).
type ExitParams struct {
	StopLoss        float64 // negative
	TakeProfit      float64
	TrailingTrigger float64
	TrailingGap     float64
	EarlyStopLoss   float64
	EarlyMinutes    time.Duration
	MinHold         time.Duration
}

// DeriveExitParams computes ExitParams from the ~20-day KOSPI volatility
// sigma (percent, e.g. 2.0 for 2%) and a strategy's risk/profit
// multipliers (spec §4.10).
func DeriveExitParams(sigmaPct, riskFactor, profitFactor float64) ExitParams {
	stopLoss := clamp(-sigmaPct*0.8*riskFactor, -8, -1)
	takeProfit := clamp(sigmaPct*1.8*profitFactor, 2, 15)
	trailingTrigger := clamp(sigmaPct*1.2, 1.5, 8)
	trailingGap := clamp(trailingTrigger*0.5, 0.8, 4)
	minHoldMinutes := 30 + sigmaPct*5
	return ExitParams{
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		TrailingTrigger: trailingTrigger,
		TrailingGap:     trailingGap,
		EarlyStopLoss:   round1(stopLoss * 0.6),
		EarlyMinutes:    10 * time.Minute,
		MinHold:         time.Duration(minHoldMinutes * float64(time.Minute)),
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+sign(v)*0.5)) / 10
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TechConfirmations counts how many independent technical signals
// currently favor an exit (RSI overbought, MACD bearish cross, upper
// band touch, support proximity broken) — spec §4.10 step d.
type TechConfirmations struct {
	RSIOverbought  bool
	MACDBearCross  bool
	UpperBandTouch bool
	SupportBroken  bool
}

// Count returns how many of the four confirmations are set.
func (t TechConfirmations) Count() int {
	n := 0
	for _, v := range []bool{t.RSIOverbought, t.MACDBearCross, t.UpperBandTouch, t.SupportBroken} {
		if v {
			n++
		}
	}
	return n
}

// EvalInput is the normalized per-tick input to Evaluate.
type EvalInput struct {
	ProfitPct    float64
	MaxProfitPct float64
	Hold         time.Duration
	D5, D20, D60 float64
	Tech         TechConfirmations
	Params       ExitParams
}

// Evaluate runs the spec §4.10 six-step exit ladder (first match wins)
// plus the multi-window disparity relaxations, and reports whether to
// exit and why.
func Evaluate(in EvalInput) (exit bool, reason string) {
	p := relax(in)

	// a. emergency stop
	if in.ProfitPct <= p.StopLoss-2.5 {
		return true, "emergency_stop"
	}

	// b. early stop (time gated)
	if in.Hold >= p.EarlyMinutes && in.ProfitPct <= p.EarlyStopLoss {
		return true, "early_stop"
	}

	// c. dynamic stop
	if in.MaxProfitPct > 2 && in.Hold >= p.EarlyMinutes {
		threshold := p.StopLoss
		dyn := p.EarlyStopLoss + 0.3*in.MaxProfitPct
		if dyn > threshold {
			threshold = dyn
		}
		if in.ProfitPct <= threshold {
			return true, "dynamic_stop"
		}
	}

	// d. intelligent trailing
	if in.MaxProfitPct >= p.TrailingTrigger {
		confirmations := in.Tech.Count()
		pullback := in.MaxProfitPct - in.ProfitPct
		if confirmations >= 2 && pullback >= p.TrailingGap {
			return true, "intelligent_trailing"
		}
		if confirmations >= 1 && pullback >= 2 {
			return true, "intelligent_trailing"
		}
	}

	// e. normal exit after min_hold
	if in.Hold >= p.MinHold {
		if in.ProfitPct <= p.StopLoss {
			return true, "stop_loss"
		}
		if in.ProfitPct >= p.TakeProfit {
			return true, "take_profit"
		}
		if in.MaxProfitPct >= p.TrailingTrigger && in.ProfitPct <= in.MaxProfitPct-p.TrailingGap {
			return true, "basic_trailing"
		}
	}

	// f. fast take
	if in.Hold < p.MinHold && in.ProfitPct >= p.TakeProfit+1.5 {
		return true, "fast_take"
	}

	return disparityExit(in)
}

// relax applies the oversold stop/take relaxation (d20<=85 && d60<=90)
// before the ladder runs, per spec §4.10.
func relax(in EvalInput) ExitParams {
	p := in.Params
	if in.D20 <= 85 && in.D60 <= 90 {
		p.StopLoss -= 2
		p.TakeProfit *= 1.4
	}
	return p
}

// disparityExit applies the two disparity-driven forced exits that sit
// outside the six-step ladder (spec §4.10).
func disparityExit(in EvalInput) (bool, string) {
	if in.D5 >= 125 && in.D20 >= 120 && in.ProfitPct >= 0.5 {
		return true, "disparity_overbought"
	}
	if in.D60 >= 110 && in.D20 >= 105 && in.D5 <= 100 && in.ProfitPct >= 2 {
		return true, "disparity_divergence"
	}
	return false, ""
}

// WSHealth reports whether the WebSocket feed is healthy enough to
// trust for mark prices (spec §4.10).
type WSHealth struct {
	Connected   bool
	Running     bool
	LastInbound time.Time
	LastPong    time.Time
}

// Healthy implements: connected ∧ running ∧ last inbound < 5min ∧ last
// pong < 10min.
func (h WSHealth) Healthy(now time.Time) bool {
	return h.Connected && h.Running &&
		now.Sub(h.LastInbound) < 5*time.Minute &&
		now.Sub(h.LastPong) < 10*time.Minute
}

// MarkSource selects between WebSocket-cached and REST-fallback prices
// per tick, tracking the last reconnect attempt so it fires at most
// once per 5-minute unhealthy window.
type MarkSource struct {
	mu                sync.Mutex
	lastReconnectTry  time.Time
	ReconnectInterval time.Duration
}

// Select returns wsPrice if the feed is healthy, otherwise restPrice,
// and reports whether a reconnect attempt should be triggered now.
func (m *MarkSource) Select(health WSHealth, wsPrice, restPrice decimal.Decimal, now time.Time) (price decimal.Decimal, shouldReconnect bool) {
	if health.Healthy(now) {
		return wsPrice, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	interval := m.ReconnectInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if now.Sub(m.lastReconnectTry) >= interval {
		m.lastReconnectTry = now
		shouldReconnect = true
	}
	return restPrice, shouldReconnect
}

// Manager owns the open Position set, keyed by symbol. It is the sole
// writer of Position state (spec §5's shared-resource policy).
type Manager struct {
	mu        sync.Mutex
	positions map[types.Symbol]*types.Position
	fifo      *orders.FIFOMatcher
}

// New builds an empty Manager.
func New(fifo *orders.FIFOMatcher) *Manager {
	return &Manager{
		positions: make(map[types.Symbol]*types.Position),
		fifo:      fifo,
	}
}

// Get returns a snapshot of the position for symbol, if any.
func (m *Manager) Get(symbol types.Symbol) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// All returns a snapshot of every open position.
func (m *Manager) All() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out
}

// HandleBuyFill updates (or opens) the position's weighted-average cost
// on a BUY fill, per the Order Execution Manager's §4.9 hand-off.
func (m *Manager) HandleBuyFill(order types.PendingOrder, fill types.Fill) types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[order.Symbol]
	if !ok {
		p = &types.Position{
			Symbol:      order.Symbol,
			StrategyTag: order.StrategyTag,
			OpenedAt:    fill.ExecTs,
			Status:      types.PositionOpen,
		}
		m.positions[order.Symbol] = p
	}

	totalCost := p.AvgCost.Mul(decimal.NewFromInt(p.Qty)).Add(fill.ExecPrice.Mul(decimal.NewFromInt(fill.ExecQty)))
	p.Qty += fill.ExecQty
	if p.Qty > 0 {
		p.AvgCost = totalCost.Div(decimal.NewFromInt(p.Qty))
	}
	p.LastMarkPrice = fill.ExecPrice
	p.LastMarkTs = fill.ExecTs

	if m.fifo != nil {
		m.fifo.AddBuy(order.Symbol, fill.ExecQty, fill.ExecPrice, fill.ExecTs)
	}

	return *p
}

// HandleSellFill reduces the position by a SELL fill, matching realized
// P&L FIFO against prior BUY lots, and closes the position once its
// quantity reaches zero. Returns the resulting TradeRecord.
func (m *Manager) HandleSellFill(order types.PendingOrder, fill types.Fill) types.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[order.Symbol]
	pnl := decimal.Zero
	if m.fifo != nil {
		pnl = m.fifo.MatchSell(order.Symbol, fill.ExecQty, fill.ExecPrice)
	}

	rec := types.TradeRecord{
		Symbol:      order.Symbol,
		Side:        types.SideSell,
		Qty:         fill.ExecQty,
		Price:       fill.ExecPrice,
		Gross:       fill.ExecPrice.Mul(decimal.NewFromInt(fill.ExecQty)),
		StrategyTag: order.StrategyTag,
		RealizedPnL: pnl,
		ClosedAt:    &fill.ExecTs,
	}

	if !ok {
		return rec
	}

	rec.OpenedAt = p.OpenedAt
	p.Qty -= fill.ExecQty
	p.LastMarkPrice = fill.ExecPrice
	p.LastMarkTs = fill.ExecTs
	if p.Qty <= 0 {
		p.Status = types.PositionClosed
		delete(m.positions, order.Symbol)
	}

	return rec
}

// UpdateMark refreshes a position's mark price and running max profit,
// returning the updated snapshot.
func (m *Manager) UpdateMark(symbol types.Symbol, price decimal.Decimal, now time.Time) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	p.LastMarkPrice = price
	p.LastMarkTs = now
	profit := p.ProfitPct()
	if profit.GreaterThan(p.MaxProfitPct) {
		p.MaxProfitPct = profit
	}
	return *p, true
}
