// Package executor is the Trade Executor (spec §4.8): validates signals,
// sizes and prices orders, submits them, and journals every attempt.
// Never mutates a Position directly — that only happens from Fill
// Events via the orders package.
//
// Grounded on the teacher's execution/executor.go (validate → size →
// price → submit → journal pipeline, TradeResult status enum)
// generalized from Polymarket CLOB orders to KIS-style limit/market
// equities orders, with the sizing/pricing formulas from
// original_source/core/trading/trade_executor.py's
// _calculate_buy_quantity/_calculate_buy_price/_calculate_sell_price.
package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/broker"
	"github.com/kisquant/tradebot/kiserr"
	"github.com/kisquant/tradebot/types"
)

// ResultStatus is the non-blocking outcome of a submission attempt.
type ResultStatus string

const (
	StatusRejected      ResultStatus = "REJECTED"
	StatusSubmitted     ResultStatus = "SUBMITTED"
	StatusSubmittedFill ResultStatus = "SUBMITTED_FILLED"
)

// RejectReason buckets a validation or submission failure for journaling.
type RejectReason string

const (
	ReasonValidationFailed RejectReason = "validation_failed"
	ReasonFundsInsufficient RejectReason = "funds_insufficient"
	ReasonRateLimit         RejectReason = "rate_limit"
	ReasonBrokerReject      RejectReason = "broker_reject"
	ReasonTransportError    RejectReason = "transport_error"
)

// TradeResult is returned from every Execute call.
type TradeResult struct {
	Status  ResultStatus
	Reason  RejectReason
	Detail  string
	OrderID string
	IsTemp  bool
	Qty     int64
	Price   decimal.Decimal
}

// Sizing defaults (spec §4.8); exported so config can override them.
var Sizing = struct {
	BaseRatio    float64
	MaxRatio     float64
	Cap          decimal.Decimal
	MinInvest    decimal.Decimal
	SafetyDiscount float64
}{
	BaseRatio:      0.20,
	MaxRatio:       0.50,
	Cap:            decimal.NewFromInt(2_000_000),
	MinInvest:      decimal.NewFromInt(300_000),
	SafetyDiscount: 0.10,
}

var strategyMultiplier = map[string]float64{
	"gap":              0.7,
	"volume_breakout":  0.9,
	"momentum":         1.2,
	"existing_holding": 0.5,
	"disparity":        0.8,
}

// Validation is the set of checks a BUY signal must pass before sizing.
type Validation struct {
	Signal          types.Signal
	HasOpenPosition bool
	HasInFlightOrder bool
	AvailableCash   decimal.Decimal
	InCooldown      bool
	DisparityOK     bool
}

// Validate implements the spec §4.8 validation gate.
func Validate(v Validation) (bool, RejectReason, string) {
	if v.Signal.Symbol == "" || v.Signal.Price.LessThanOrEqual(decimal.Zero) {
		return false, ReasonValidationFailed, "missing required fields or non-positive price"
	}
	if v.Signal.Strength < 0.3 {
		return false, ReasonValidationFailed, "strength below 0.3"
	}
	if v.InCooldown {
		return false, ReasonValidationFailed, "symbol/side in cooldown"
	}
	if v.HasOpenPosition {
		return false, ReasonValidationFailed, "duplicate open position"
	}
	if v.HasInFlightOrder {
		return false, ReasonValidationFailed, "order already in flight"
	}
	if !v.DisparityOK {
		return false, ReasonValidationFailed, "disparity gate rejected"
	}
	if v.AvailableCash.LessThan(Sizing.MinInvest) {
		return false, ReasonFundsInsufficient, "available cash below MIN_INVEST"
	}
	return true, "", ""
}

// Size computes the order qty and validates it against safe cash (spec
// §4.8's sizing policy). Returns qty=0, ok=false if nothing fits.
func Size(cash decimal.Decimal, strategyTag string, strength float64, limitPrice decimal.Decimal) (qty int64, safeCash decimal.Decimal, ok bool) {
	clamped := clampStrength(strength, 0.3, 1.2)
	mul := strategyMultiplier[strategyTag]
	if mul == 0 {
		mul = 1.0
	}

	safeCash = cash.Mul(decimal.NewFromFloat(1 - Sizing.SafetyDiscount))

	maxInvest := safeCash.Mul(decimal.NewFromFloat(Sizing.BaseRatio * mul * clamped))
	ceilingByRatio := safeCash.Mul(decimal.NewFromFloat(Sizing.MaxRatio))
	if maxInvest.GreaterThan(ceilingByRatio) {
		maxInvest = ceilingByRatio
	}
	if maxInvest.GreaterThan(Sizing.Cap) {
		maxInvest = Sizing.Cap
	}

	if limitPrice.LessThanOrEqual(decimal.Zero) {
		return 0, safeCash, false
	}
	qty = maxInvest.Div(limitPrice).IntPart()
	if qty <= 0 {
		return 0, safeCash, false
	}
	if limitPrice.Mul(decimal.NewFromInt(qty)).GreaterThan(safeCash) {
		return 0, safeCash, false
	}
	return qty, safeCash, true
}

func clampStrength(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// buyPremium is the per-strategy BUY limit premium (spec §4.8).
var buyPremium = map[string]float64{
	"gap":              0.002,
	"volume_breakout":  0.0015,
	"momentum":         0.001,
	"pure_technical":   0.0015,
	"disparity_reversal": 0.001,
}

// sellDiscount is the per-strategy SELL limit discount; auto-sell always
// uses the larger 0.8% fast-fill discount.
var sellDiscount = map[string]float64{
	"gap":              0.004,
	"volume_breakout":  0.005,
	"momentum":         0.006,
	"pure_technical":   0.005,
	"disparity_reversal": 0.008,
}

const autoSellDiscount = 0.008

// BuyLimitPrice computes the tick-rounded BUY limit for current price per
// the per-strategy premium, with a small volatility nudge for very
// low/high priced names, clamped to [0.1%,1%] overall premium.
func BuyLimitPrice(current decimal.Decimal, strategyTag string) decimal.Decimal {
	premium := buyPremium[strategyTag]
	if premium == 0 {
		premium = 0.0015
	}
	premium += volatilityAdjustment(current)
	premium = clampFloat(premium, 0.001, 0.01)

	raw := current.Mul(decimal.NewFromFloat(1 + premium))
	return TickRound(raw)
}

// SellLimitPrice computes the tick-rounded SELL limit. autoSell selects
// the larger fast-fill discount used by Position Manager exits.
func SellLimitPrice(current decimal.Decimal, strategyTag string, autoSell bool) decimal.Decimal {
	discount := autoSellDiscount
	if !autoSell {
		if d, ok := sellDiscount[strategyTag]; ok {
			discount = d
		} else {
			discount = 0.005
		}
	}
	raw := current.Mul(decimal.NewFromFloat(1 - discount))
	return TickRound(raw)
}

// volatilityAdjustment nudges premium for very low/high priced names
// (spec §4.8: "small volatility adjustment ... ±0.1-0.2%").
func volatilityAdjustment(price decimal.Decimal) float64 {
	f, _ := price.Float64()
	switch {
	case f < 5000:
		return 0.002
	case f > 200000:
		return -0.001
	default:
		return 0
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// tickBand is one rung of the exchange's price-band-dependent tick table.
type tickBand struct {
	ceiling decimal.Decimal // exclusive upper bound; zero means +inf
	tick    decimal.Decimal
}

var tickLadder = []tickBand{
	{ceiling: decimal.NewFromInt(1_000), tick: decimal.NewFromInt(1)},
	{ceiling: decimal.NewFromInt(5_000), tick: decimal.NewFromInt(5)},
	{ceiling: decimal.NewFromInt(10_000), tick: decimal.NewFromInt(10)},
	{ceiling: decimal.NewFromInt(50_000), tick: decimal.NewFromInt(50)},
	{ceiling: decimal.NewFromInt(100_000), tick: decimal.NewFromInt(100)},
	{ceiling: decimal.NewFromInt(500_000), tick: decimal.NewFromInt(500)},
	{ceiling: decimal.Zero, tick: decimal.NewFromInt(1_000)},
}

// TickRound snaps price down to the nearest valid tick for its price band.
func TickRound(price decimal.Decimal) decimal.Decimal {
	tick := tickFor(price)
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick).Floor()
	return units.Mul(tick)
}

func tickFor(price decimal.Decimal) decimal.Decimal {
	for _, band := range tickLadder {
		if band.ceiling.IsZero() || price.LessThan(band.ceiling) {
			return band.tick
		}
	}
	return tickLadder[len(tickLadder)-1].tick
}

// SubmitResult is what a successful PlaceOrder maps into for the Order
// Execution Manager to register.
type SubmitResult struct {
	Order   types.PendingOrder
	Journal JournalEntry
}

// JournalEntry is one append-only record of a submission attempt.
type JournalEntry struct {
	Signal  types.Signal
	Status  ResultStatus
	Reason  RejectReason
	Detail  string
	Ts      time.Time
}

// Executor wires signal evaluation into the broker.
type Executor struct {
	client *broker.Client
}

// New builds an Executor.
func New(client *broker.Client) *Executor {
	return &Executor{client: client}
}

// Execute validates sig, sizes/prices it, submits to the broker, and
// returns a non-blocking TradeResult plus the journal entry to persist.
// timeout is not used by Execute; a Pending Order's expiry window is set
// when it is registered with orders.Manager (300s when left zero).
func (e *Executor) Execute(ctx context.Context, sig types.Signal, v Validation, cash decimal.Decimal, quote types.Quote, timeout time.Duration) (TradeResult, JournalEntry) {
	now := time.Now()
	if ok, reason, detail := Validate(v); !ok {
		r := TradeResult{Status: StatusRejected, Reason: reason, Detail: detail}
		return r, JournalEntry{Signal: sig, Status: r.Status, Reason: reason, Detail: detail, Ts: now}
	}

	limitPrice := BuyLimitPrice(quote.Last, sig.StrategyTag)
	qty, safeCash, ok := Size(cash, sig.StrategyTag, sig.Strength, limitPrice)
	if !ok {
		r := TradeResult{Status: StatusRejected, Reason: ReasonFundsInsufficient, Detail: "sizing produced zero viable quantity"}
		return r, JournalEntry{Signal: sig, Status: r.Status, Reason: r.Reason, Detail: r.Detail, Ts: now}
	}
	_ = safeCash

	res, err := e.client.PlaceOrder(ctx, sig.Symbol, sig.Side, qty, limitPrice)
	if err != nil {
		reason, detail := classifySubmitError(err)
		r := TradeResult{Status: StatusRejected, Reason: reason, Detail: detail}
		return r, JournalEntry{Signal: sig, Status: r.Status, Reason: reason, Detail: detail, Ts: now}
	}

	orderID := res.OrderID
	isTemp := orderID == ""
	if isTemp {
		orderID = syntheticOrderID(sig.Symbol, now)
	}

	r := TradeResult{Status: StatusSubmitted, OrderID: orderID, IsTemp: isTemp, Qty: qty, Price: limitPrice}
	return r, JournalEntry{Signal: sig, Status: r.Status, Ts: now}
}

func classifySubmitError(err error) (RejectReason, string) {
	kind, _ := kiserr.KindOf(err)
	switch kind {
	case kiserr.RateLimited:
		return ReasonRateLimit, "broker rate-limited the submission"
	case kiserr.BrokerReject:
		return ReasonBrokerReject, err.Error()
	case kiserr.Transport:
		return ReasonTransportError, "transport failure submitting order"
	default:
		return ReasonBrokerReject, err.Error()
	}
}

func syntheticOrderID(symbol types.Symbol, ts time.Time) string {
	return "tmp-" + string(symbol) + "-" + ts.Format("150405.000")
}
