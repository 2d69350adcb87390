package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/types"
)

func TestTTLLRU_EvictsLeastRecentlyUsedOnOverflow(t *testing.T) {
	c := newTTLLRU[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // touch a, making b the LRU victim
	c.Set("c", 3)

	if _, _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted as least recently used")
	}
	if _, _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive (recently touched)")
	}
	if _, _, ok := c.Get("c"); !ok {
		t.Fatal("expected c to be present (just inserted)")
	}
}

func TestTTLLRU_ExpiresOnGet(t *testing.T) {
	c := newTTLLRU[int](10, time.Millisecond)
	c.Set("x", 1)
	time.Sleep(5 * time.Millisecond)
	if _, _, ok := c.Get("x"); ok {
		t.Fatal("expected expired entry to be unavailable")
	}
}

func TestTTLLRU_Sweep(t *testing.T) {
	c := newTTLLRU[int](10, time.Millisecond)
	c.Set("x", 1)
	c.Set("y", 2)
	time.Sleep(5 * time.Millisecond)
	removed := c.Sweep()
	if removed != 2 {
		t.Fatalf("expected sweep to remove 2 expired entries, got %d", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after sweep, got %d", c.Len())
	}
}

func TestPipeline_UpgradeRejectsDowngrade(t *testing.T) {
	p := New(nil)
	p.Add("005930", types.TierHigh, "gap", nil)

	if ok := p.Upgrade("005930", types.TierMedium); ok {
		t.Fatal("expected downgrade from HIGH to MEDIUM to be rejected")
	}
	if ok := p.Upgrade("005930", types.TierCritical); !ok {
		t.Fatal("expected upgrade from HIGH to CRITICAL to succeed")
	}
}

func TestPipeline_OnTickUpdatesLatestAndInvokesCallback(t *testing.T) {
	p := New(nil)
	var gotSymbol types.Symbol
	p.Add("005930", types.TierCritical, "gap", func(sym types.Symbol, source string, q types.Quote) {
		gotSymbol = sym
	})

	q := types.Quote{Symbol: "005930", Last: decimal.NewFromInt(70000)}
	p.OnTick("005930", "ws", q)

	latest, source, _, ok := p.Latest("005930")
	if !ok {
		t.Fatal("expected a latest quote after OnTick")
	}
	if source != "ws" {
		t.Fatalf("expected source ws, got %s", source)
	}
	if !latest.Last.Equal(q.Last) {
		t.Fatalf("expected latest price to match the ticked quote")
	}
	if gotSymbol != "005930" {
		t.Fatal("expected callback to fire with the ticked symbol")
	}
}

func TestDowngradeTierForRank(t *testing.T) {
	cases := []struct {
		rank int
		want types.Tier
	}{
		{0, types.TierCritical},
		{4, types.TierCritical},
		{5, types.TierHigh},
		{9, types.TierHigh},
		{10, types.TierMedium},
		{100, types.TierBackground},
	}
	for _, c := range cases {
		got := DowngradeTierForRank(types.TierCritical, c.rank)
		if got != c.want {
			t.Errorf("rank %d: expected %s, got %s", c.rank, c.want, got)
		}
	}
}
