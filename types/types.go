// Package types holds the shared data model so downstream packages never
// import each other just to see a struct. Plain data only — behavior lives
// in the owning manager (allocator owns Slot, orders manager owns PendingOrder,
// position manager owns Position).
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is an opaque short broker code, e.g. "005930".
type Symbol string

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Channel is a WebSocket realtime subscription channel.
type Channel string

const (
	ChannelTrade     Channel = "TRADE"
	ChannelBook      Channel = "BOOK"
	ChannelExecution Channel = "EXECUTION"
	ChannelIndex     Channel = "INDEX"
)

// Tier is the data-freshness class governing how a symbol is fed.
type Tier string

const (
	TierCritical   Tier = "CRITICAL"
	TierHigh       Tier = "HIGH"
	TierMedium     Tier = "MEDIUM"
	TierLow        Tier = "LOW"
	TierBackground Tier = "BACKGROUND"
)

// Quote is a price snapshot for a symbol.
type Quote struct {
	Symbol    Symbol
	Last      decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	PrevClose decimal.Decimal
	Volume    int64
	Ts        time.Time
}

// ChangePct returns the % change vs previous close.
func (q Quote) ChangePct() decimal.Decimal {
	if q.PrevClose.IsZero() {
		return decimal.Zero
	}
	return q.Last.Sub(q.PrevClose).Div(q.PrevClose).Mul(decimal.NewFromInt(100))
}

// BookDepth is the fixed number of price levels carried per side.
const BookDepth = 10

// Level is a single price/qty rung of an orderbook side.
type Level struct {
	Price decimal.Decimal
	Qty   int64
}

// Orderbook is a depth-K snapshot. Bids/Asks are always length BookDepth,
// zero-padded when the broker returns fewer levels.
type Orderbook struct {
	Symbol      Symbol
	Bids        [BookDepth]Level
	Asks        [BookDepth]Level
	TotalBidQty int64
	TotalAskQty int64
	Ts          time.Time
}

// Candidate is a scored symbol produced by discovery for a strategy.
type Candidate struct {
	Symbol       Symbol
	StrategyTag  string
	Score        float64
	Reason       string
	DiscoveredAt time.Time
	Standby      bool // after-hours pre-market screen, consumed next day
	Ctx          map[string]any
}

// Key uniquely identifies a candidate within a discovery day.
func (c Candidate) Key() string {
	return c.StrategyTag + "|" + string(c.Symbol) + "|" + c.DiscoveredAt.Format("2006-01-02")
}

// Slot is a reserved realtime subscription, consuming one of N_MAX quota
// units held by the allocator.
type Slot struct {
	Symbol       Symbol
	Channel      Channel
	Priority     int
	StrategyTag  string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Key is the allocator's identity for a slot: (channel, symbol).
func (s Slot) Key() string {
	return string(s.Channel) + "|" + string(s.Symbol)
}

// PendingOrder is an order submitted but not yet matched to a fill.
type PendingOrder struct {
	OrderID     string
	IsTemporary bool // synthetic id: broker returned none, match by (symbol,side,age)
	Symbol      Symbol
	Side        Side
	Qty         int64
	LimitPrice  decimal.Decimal
	StrategyTag string
	CreatedAt   time.Time
	Timeout     time.Duration
	AccountNo   string
	PatternCtx  map[string]any
}

// Expired reports whether the order has outlived its timeout as of now.
func (p PendingOrder) Expired(now time.Time) bool {
	return now.After(p.CreatedAt.Add(p.Timeout))
}

// Fill is an execution notice correlated against a PendingOrder.
type Fill struct {
	OrderID   string
	Symbol    Symbol
	Side      Side
	ExecQty   int64
	ExecPrice decimal.Decimal
	ExecTs    time.Time
	Reject    bool
	AccountNo string
}

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is the open/closed holding state for a symbol+strategy.
type Position struct {
	Symbol        Symbol
	Qty           int64
	AvgCost       decimal.Decimal
	OpenedAt      time.Time
	StrategyTag   string
	Status        PositionStatus
	MaxProfitPct  decimal.Decimal
	LastMarkPrice decimal.Decimal
	LastMarkTs    time.Time
}

// ProfitPct returns the running unrealized P&L percentage off AvgCost.
func (p Position) ProfitPct() decimal.Decimal {
	if p.AvgCost.IsZero() {
		return decimal.Zero
	}
	return p.LastMarkPrice.Sub(p.AvgCost).Div(p.AvgCost).Mul(decimal.NewFromInt(100))
}

// TradeRecord is an append-only journal entry for a completed trade leg.
type TradeRecord struct {
	ID          string
	Symbol      Symbol
	Side        Side
	Qty         int64
	Price       decimal.Decimal
	Gross       decimal.Decimal
	Fees        decimal.Decimal
	StrategyTag string
	PatternCtx  map[string]any
	LinkedBuyID string
	RealizedPnL decimal.Decimal
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// StrategyWeight is a strategy's participation weight inside a TimeSlot.
type StrategyWeight struct {
	StrategyTag string
	Weight      float64
}

// TimeSlot is a disjoint wall-clock interval of the trading day declaring
// which strategies are primary/secondary during it.
type TimeSlot struct {
	Name                string
	StartTime           time.Time // time-of-day, date component ignored
	EndTime             time.Time
	PrimaryStrategies   []StrategyWeight
	SecondaryStrategies []StrategyWeight
	PreparationOffset   time.Duration
}

// Signal is a typed trading signal emitted by the Signal Engine. The
// Position Manager produces no Signals.
type Signal struct {
	Symbol      Symbol
	Side        Side
	StrategyTag string
	Strength    float64 // comparable only within the same StrategyTag
	Price       decimal.Decimal
	Reason      string
	Ts          time.Time
	Ctx         map[string]any
}
