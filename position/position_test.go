package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/orders"
	"github.com/kisquant/tradebot/types"
)

func TestDeriveExitParams_ClampsToBounds(t *testing.T) {
	p := DeriveExitParams(20.0, 1.0, 1.0) // extreme sigma to hit the clamps
	if p.StopLoss != -8 {
		t.Fatalf("expected stop_loss clamped to -8, got %v", p.StopLoss)
	}
	if p.TakeProfit != 15 {
		t.Fatalf("expected take_profit clamped to 15, got %v", p.TakeProfit)
	}
	if p.TrailingTrigger != 8 {
		t.Fatalf("expected trailing_trigger clamped to 8, got %v", p.TrailingTrigger)
	}
	if p.TrailingGap != 4 {
		t.Fatalf("expected trailing_gap clamped to 4, got %v", p.TrailingGap)
	}
}

func TestDeriveExitParams_EarlyStopLossIsSixtyPercentOfStopLoss(t *testing.T) {
	p := DeriveExitParams(2.0, 1.0, 1.0)
	want := round1(p.StopLoss * 0.6)
	if p.EarlyStopLoss != want {
		t.Fatalf("expected early_stop_loss = stop_loss*0.6 = %v, got %v", want, p.EarlyStopLoss)
	}
}

func TestDeriveExitParams_MinHoldScalesWithVolatility(t *testing.T) {
	low := DeriveExitParams(1.0, 1.0, 1.0)
	high := DeriveExitParams(5.0, 1.0, 1.0)
	if !(high.MinHold > low.MinHold) {
		t.Fatalf("expected higher volatility to raise min_hold, got low=%v high=%v", low.MinHold, high.MinHold)
	}
	wantLow := time.Duration((30 + 1.0*5) * float64(time.Minute))
	if low.MinHold != wantLow {
		t.Fatalf("expected min_hold=30+sigma*5=%v for sigma=1.0, got %v", wantLow, low.MinHold)
	}
}

func TestEvaluate_EmergencyStopTakesPriority(t *testing.T) {
	params := DeriveExitParams(2.0, 1.0, 1.0)
	in := EvalInput{ProfitPct: params.StopLoss - 3, D20: 100, D60: 100, Params: params}
	exit, reason := Evaluate(in)
	if !exit || reason != "emergency_stop" {
		t.Fatalf("expected emergency_stop, got exit=%v reason=%s", exit, reason)
	}
}

func TestEvaluate_TakeProfitAfterMinHold(t *testing.T) {
	params := DeriveExitParams(2.0, 1.0, 1.0)
	in := EvalInput{ProfitPct: params.TakeProfit + 0.1, Hold: params.MinHold + time.Minute, D20: 100, D60: 100, Params: params}
	exit, reason := Evaluate(in)
	if !exit || reason != "take_profit" {
		t.Fatalf("expected take_profit, got exit=%v reason=%s", exit, reason)
	}
}

func TestEvaluate_FastTakeBeforeMinHold(t *testing.T) {
	params := DeriveExitParams(2.0, 1.0, 1.0)
	in := EvalInput{ProfitPct: params.TakeProfit + 1.6, Hold: params.MinHold / 2, D20: 100, D60: 100, Params: params}
	exit, reason := Evaluate(in)
	if !exit || reason != "fast_take" {
		t.Fatalf("expected fast_take, got exit=%v reason=%s", exit, reason)
	}
}

func TestEvaluate_NoExitWhenNothingTriggers(t *testing.T) {
	params := DeriveExitParams(2.0, 1.0, 1.0)
	in := EvalInput{ProfitPct: 0.5, MaxProfitPct: 0.5, Hold: params.MinHold + time.Minute, D20: 100, D60: 100, Params: params}
	exit, _ := Evaluate(in)
	if exit {
		t.Fatal("expected no exit for a modest in-range profit")
	}
}

func TestEvaluate_DisparityOverboughtForcesSell(t *testing.T) {
	params := DeriveExitParams(2.0, 1.0, 1.0)
	in := EvalInput{ProfitPct: 1.0, MaxProfitPct: 1.0, D5: 130, D20: 122, Params: params}
	exit, reason := Evaluate(in)
	if !exit || reason != "disparity_overbought" {
		t.Fatalf("expected disparity_overbought, got exit=%v reason=%s", exit, reason)
	}
}

func TestWSHealth_UnhealthyWhenInboundStale(t *testing.T) {
	now := time.Now()
	h := WSHealth{Connected: true, Running: true, LastInbound: now.Add(-6 * time.Minute), LastPong: now}
	if h.Healthy(now) {
		t.Fatal("expected unhealthy when last inbound exceeds 5 minutes")
	}
}

func TestMarkSource_PrefersWebSocketWhenHealthy(t *testing.T) {
	ms := &MarkSource{}
	now := time.Now()
	h := WSHealth{Connected: true, Running: true, LastInbound: now, LastPong: now}
	price, reconnect := ms.Select(h, decimal.NewFromInt(100), decimal.NewFromInt(200), now)
	if !price.Equal(decimal.NewFromInt(100)) || reconnect {
		t.Fatalf("expected WS price with no reconnect, got price=%s reconnect=%v", price, reconnect)
	}
}

func TestMarkSource_FallsBackAndReconnectsOnceWithinWindow(t *testing.T) {
	ms := &MarkSource{}
	now := time.Now()
	h := WSHealth{}
	price, reconnect := ms.Select(h, decimal.NewFromInt(100), decimal.NewFromInt(200), now)
	if !price.Equal(decimal.NewFromInt(200)) || !reconnect {
		t.Fatalf("expected REST fallback and a reconnect attempt, got price=%s reconnect=%v", price, reconnect)
	}

	_, reconnectAgain := ms.Select(h, decimal.NewFromInt(100), decimal.NewFromInt(200), now.Add(time.Minute))
	if reconnectAgain {
		t.Fatal("expected no second reconnect attempt within the 5-minute window")
	}
}

func TestManager_HandleBuyThenSellFillComputesPnL(t *testing.T) {
	fifo := orders.NewFIFOMatcher()
	m := New(fifo)
	now := time.Now()

	buyOrder := types.PendingOrder{Symbol: "005930", Side: types.SideBuy, StrategyTag: "gap"}
	m.HandleBuyFill(buyOrder, types.Fill{Symbol: "005930", ExecQty: 10, ExecPrice: decimal.NewFromInt(70000), ExecTs: now})

	pos, ok := m.Get("005930")
	if !ok || pos.Qty != 10 {
		t.Fatalf("expected open position qty 10, got %+v ok=%v", pos, ok)
	}

	sellOrder := types.PendingOrder{Symbol: "005930", Side: types.SideSell, StrategyTag: "gap"}
	rec := m.HandleSellFill(sellOrder, types.Fill{Symbol: "005930", ExecQty: 10, ExecPrice: decimal.NewFromInt(72000), ExecTs: now.Add(time.Minute)})

	want := decimal.NewFromInt(20000) // 10 * (72000-70000)
	if !rec.RealizedPnL.Equal(want) {
		t.Fatalf("expected realized pnl %s, got %s", want, rec.RealizedPnL)
	}
	if _, stillOpen := m.Get("005930"); stillOpen {
		t.Fatal("expected position closed after full-quantity sell")
	}
}
