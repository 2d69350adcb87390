package alloc

import (
	"testing"
	"time"

	"github.com/kisquant/tradebot/types"
)

func slot(symbol string, priority int) types.Slot {
	return types.Slot{Symbol: types.Symbol(symbol), Channel: types.ChannelTrade, Priority: priority, CreatedAt: time.Now()}
}

func TestRequestAdmit_IdempotentReAdmit(t *testing.T) {
	a := New()
	s := slot("005930", 90)
	ok1, _ := a.RequestAdmit(s)
	ok2, evicted := a.RequestAdmit(s)
	if !ok1 || !ok2 {
		t.Fatal("expected both admits to succeed")
	}
	if evicted != nil {
		t.Fatal("re-admitting an already active slot must not evict anything")
	}
	if len(a.Active()) != 1 {
		t.Fatalf("expected exactly one active slot, got %d", len(a.Active()))
	}
}

func TestRequestAdmit_FillsUpToNMax(t *testing.T) {
	a := New()
	for i := 0; i < NMax; i++ {
		ok, _ := a.RequestAdmit(slot(symbolFor(i), 50))
		if !ok {
			t.Fatalf("slot %d should have been admitted under the cap", i)
		}
	}
	if a.CanAdmit() {
		t.Fatal("expected CanAdmit to be false once NMax slots are active")
	}
}

func TestRequestAdmit_DisplacesLowerPriorityWhenFull(t *testing.T) {
	a := New()
	for i := 0; i < NMax; i++ {
		a.RequestAdmit(slot(symbolFor(i), 10))
	}

	ok, evicted := a.RequestAdmit(slot("NEWHI", 99))
	if !ok {
		t.Fatal("expected high-priority slot to displace a low-priority one")
	}
	if evicted == nil {
		t.Fatal("expected an evicted slot to be reported")
	}
}

func TestRequestAdmit_RejectsWhenFullAndNotHigherPriority(t *testing.T) {
	a := New()
	for i := 0; i < NMax; i++ {
		a.RequestAdmit(slot(symbolFor(i), 90))
	}

	ok, evicted := a.RequestAdmit(slot("LOWPRI", 5))
	if ok {
		t.Fatal("expected admission to be rejected when no seated slot has lower priority")
	}
	if evicted != nil {
		t.Fatal("rejected admission must not evict anything")
	}
}

func TestConfirmAddition_ClearsPending(t *testing.T) {
	a := New()
	s := slot("005930", 50)
	a.RequestAdmit(s)
	if len(a.PendingAdditions()) != 1 {
		t.Fatal("expected one pending addition before confirm")
	}
	a.ConfirmAddition(s.Key())
	if len(a.PendingAdditions()) != 0 {
		t.Fatal("expected pending additions to clear after confirm")
	}
	if len(a.Active()) != 1 {
		t.Fatal("confirming an addition must not remove it from active")
	}
}

func TestConfirmRemoval_DropsFromActive(t *testing.T) {
	a := New()
	s := slot("005930", 50)
	a.RequestAdmit(s)
	a.ConfirmAddition(s.Key())
	a.RequestRemove(s.Key())
	a.ConfirmRemoval(s.Key())
	if len(a.Active()) != 0 {
		t.Fatal("expected slot to be gone from active after confirm removal")
	}
}

func TestRebalance_SwapsWhenChallengerBeatsSeatedByTwentyPercent(t *testing.T) {
	a := New()
	seated := slot("WEAK", 40)
	a.RequestAdmit(seated)
	a.ConfirmAddition(seated.Key())

	board := []ScoreEntry{
		{Symbol: "WEAK", Channel: types.ChannelTrade, Score: 1.0},
		{Symbol: "STRONG", Channel: types.ChannelTrade, Score: 1.3},
	}
	swaps := a.Rebalance(board)
	if len(swaps) != 1 {
		t.Fatalf("expected one swap, got %d", len(swaps))
	}
	if swaps[0].In.Symbol != "STRONG" {
		t.Fatalf("expected STRONG to take the seat, got %s", swaps[0].In.Symbol)
	}
}

func TestRebalance_NoSwapBelowTwentyPercentMargin(t *testing.T) {
	a := New()
	seated := slot("WEAK", 40)
	a.RequestAdmit(seated)
	a.ConfirmAddition(seated.Key())

	board := []ScoreEntry{
		{Symbol: "WEAK", Channel: types.ChannelTrade, Score: 1.0},
		{Symbol: "CLOSE", Channel: types.ChannelTrade, Score: 1.1},
	}
	swaps := a.Rebalance(board)
	if len(swaps) != 0 {
		t.Fatalf("expected no swap below the 20%% margin, got %d", len(swaps))
	}
}

func symbolFor(i int) string {
	return "S" + string(rune('A'+(i%26))) + string(rune('0'+(i/26)))
}
