package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/types"
)

func TestHandleFill_ExactOrderIDMatch(t *testing.T) {
	var filled types.PendingOrder
	m := New(Hooks{OnBuyFill: func(o types.PendingOrder, f types.Fill) { filled = o }})

	now := time.Now()
	m.Register(types.PendingOrder{OrderID: "O1", Symbol: "005930", Side: types.SideBuy, Qty: 10, CreatedAt: now})

	id, ok := m.HandleFill(types.Fill{OrderID: "O1", Symbol: "005930", Side: types.SideBuy, ExecQty: 10, ExecPrice: decimal.NewFromInt(70000)}, now)
	if !ok || id != "O1" {
		t.Fatalf("expected exact match on O1, got id=%s ok=%v", id, ok)
	}
	if filled.OrderID != "O1" {
		t.Fatal("expected OnBuyFill to receive the matched order")
	}
	if len(m.Pending()) != 0 {
		t.Fatal("expected the matched order to be removed from pending")
	}
}

func TestHandleFill_PartialFillLeavesResidualQtyPending(t *testing.T) {
	m := New(Hooks{})

	now := time.Now()
	m.Register(types.PendingOrder{OrderID: "O1", Symbol: "005930", Side: types.SideBuy, Qty: 10, CreatedAt: now})

	id, ok := m.HandleFill(types.Fill{OrderID: "O1", Symbol: "005930", Side: types.SideBuy, ExecQty: 4, ExecPrice: decimal.NewFromInt(70000)}, now)
	if !ok || id != "O1" {
		t.Fatalf("expected a partial match on O1, got id=%s ok=%v", id, ok)
	}
	pending := m.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected the order to remain pending after a partial fill, got %d pending", len(pending))
	}
	if pending[0].Qty != 6 {
		t.Fatalf("expected residual qty 6 (10-4), got %d", pending[0].Qty)
	}

	_, ok = m.HandleFill(types.Fill{OrderID: "O1", Symbol: "005930", Side: types.SideBuy, ExecQty: 6, ExecPrice: decimal.NewFromInt(70000)}, now)
	if !ok {
		t.Fatal("expected the residual fill to match and close the order")
	}
	if len(m.Pending()) != 0 {
		t.Fatal("expected the order to be removed once fully filled")
	}
}

func TestHandleFill_IgnoresRejectedExecutions(t *testing.T) {
	m := New(Hooks{})
	now := time.Now()
	m.Register(types.PendingOrder{OrderID: "O1", Symbol: "005930", Side: types.SideBuy, CreatedAt: now})

	_, ok := m.HandleFill(types.Fill{OrderID: "O1", ExecQty: 10, Reject: true}, now)
	if ok {
		t.Fatal("expected a rejected execution record to be ignored")
	}
	if len(m.Pending()) != 1 {
		t.Fatal("expected the pending order to remain after an ignored rejection")
	}
}

func TestHandleFill_TemporaryIDMatchBySymbolSideAge(t *testing.T) {
	var matched types.PendingOrder
	m := New(Hooks{OnSellFill: func(o types.PendingOrder, f types.Fill) { matched = o }})

	now := time.Now()
	m.Register(types.PendingOrder{OrderID: "tmp-005930-1", IsTemporary: true, Symbol: "005930", Side: types.SideSell, CreatedAt: now.Add(-2 * time.Minute)})

	id, ok := m.HandleFill(types.Fill{OrderID: "broker-real-id", Symbol: "005930", Side: types.SideSell, ExecQty: 5}, now)
	if !ok || id != "tmp-005930-1" {
		t.Fatalf("expected temp-id match, got id=%s ok=%v", id, ok)
	}
	if matched.OrderID != "tmp-005930-1" {
		t.Fatal("expected OnSellFill to receive the matched temp order")
	}
}

func TestHandleFill_RejectsTemporaryMatchPastAgeWindow(t *testing.T) {
	m := New(Hooks{})
	now := time.Now()
	m.Register(types.PendingOrder{OrderID: "tmp-005930-1", IsTemporary: true, Symbol: "005930", Side: types.SideSell, CreatedAt: now.Add(-11 * time.Minute)})

	_, ok := m.HandleFill(types.Fill{OrderID: "broker-real-id", Symbol: "005930", Side: types.SideSell, ExecQty: 5}, now)
	if ok {
		t.Fatal("expected a stale temporary order past the 10-minute window to not match")
	}
}

func TestSweepExpired_RemovesAndInvokesTimeoutHook(t *testing.T) {
	var timedOut string
	m := New(Hooks{OnTimeout: func(o types.PendingOrder) { timedOut = o.OrderID }})

	now := time.Now()
	m.Register(types.PendingOrder{OrderID: "O1", CreatedAt: now.Add(-10 * time.Minute), Timeout: 300 * time.Second})

	expired := m.SweepExpired(now)
	if len(expired) != 1 || timedOut != "O1" {
		t.Fatalf("expected O1 to expire, got %+v timedOut=%s", expired, timedOut)
	}
	if len(m.Pending()) != 0 {
		t.Fatal("expected expired order removed from pending")
	}
}

func TestFIFOMatcher_MatchesOldestLotsFirst(t *testing.T) {
	f := NewFIFOMatcher()
	now := time.Now()
	f.AddBuy("005930", 10, decimal.NewFromInt(70000), now)
	f.AddBuy("005930", 10, decimal.NewFromInt(72000), now.Add(time.Minute))

	pnl := f.MatchSell("005930", 15, decimal.NewFromInt(75000))
	// First 10 @70000 cost 700000, next 5 @72000 cost 360000 => total cost 1060000
	// proceeds 15*75000 = 1125000 => pnl 65000
	want := decimal.NewFromInt(65000)
	if !pnl.Equal(want) {
		t.Fatalf("expected pnl %s, got %s", want, pnl)
	}
}
