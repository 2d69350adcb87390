package executor

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kisquant/tradebot/types"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestValidate_RejectsWeakStrength(t *testing.T) {
	v := Validation{
		Signal:        types.Signal{Symbol: "005930", Price: dec(70000), Strength: 0.1},
		AvailableCash: dec(1_000_000),
		DisparityOK:   true,
	}
	ok, reason, _ := Validate(v)
	if ok || reason != ReasonValidationFailed {
		t.Fatalf("expected validation-failed for weak strength, got ok=%v reason=%s", ok, reason)
	}
}

func TestValidate_RejectsInsufficientCash(t *testing.T) {
	v := Validation{
		Signal:        types.Signal{Symbol: "005930", Price: dec(70000), Strength: 0.8},
		AvailableCash: dec(100_000),
		DisparityOK:   true,
	}
	ok, reason, _ := Validate(v)
	if ok || reason != ReasonFundsInsufficient {
		t.Fatalf("expected funds-insufficient, got ok=%v reason=%s", ok, reason)
	}
}

func TestValidate_RejectsDuplicateOpenPosition(t *testing.T) {
	v := Validation{
		Signal:          types.Signal{Symbol: "005930", Price: dec(70000), Strength: 0.8},
		AvailableCash:   dec(1_000_000),
		HasOpenPosition: true,
		DisparityOK:     true,
	}
	ok, _, _ := Validate(v)
	if ok {
		t.Fatal("expected duplicate open position to be rejected")
	}
}

func TestValidate_PassesWhenAllChecksClear(t *testing.T) {
	v := Validation{
		Signal:        types.Signal{Symbol: "005930", Price: dec(70000), Strength: 0.8},
		AvailableCash: dec(1_000_000),
		DisparityOK:   true,
	}
	ok, _, _ := Validate(v)
	if !ok {
		t.Fatal("expected validation to pass")
	}
}

func TestSize_AppliesStrategyMultiplierAndCap(t *testing.T) {
	cash := dec(10_000_000)
	qty, _, ok := Size(cash, "momentum", 1.0, dec(10_000))
	if !ok || qty <= 0 {
		t.Fatalf("expected a positive sized qty, got %d ok=%v", qty, ok)
	}
	invested := dec(10_000).Mul(decimal.NewFromInt(qty))
	if invested.GreaterThan(Sizing.Cap) {
		t.Fatalf("expected invested amount capped at %s, got %s", Sizing.Cap, invested)
	}
}

func TestSize_DiscountsCashBeforeRatioCeiling(t *testing.T) {
	cash := dec(10_000_000)
	qty, safeCash, ok := Size(cash, "gap", 0.6, dec(20020))
	if !ok {
		t.Fatal("expected sizing to succeed")
	}
	wantSafeCash := dec(9_000_000)
	if !safeCash.Equal(wantSafeCash) {
		t.Fatalf("safeCash = %s, want %s", safeCash, wantSafeCash)
	}
	if qty != 37 {
		t.Fatalf("qty = %d, want 37 (invest=safeCash*0.2*0.7*0.6=756000, /20020=37)", qty)
	}
}

func TestSize_FailsWhenCashTooSmallForOneShare(t *testing.T) {
	_, _, ok := Size(dec(100), "gap", 1.0, dec(70000))
	if ok {
		t.Fatal("expected sizing to fail when cash can't afford a single share")
	}
}

func TestTickRound_SelectsBandByPrice(t *testing.T) {
	cases := []struct {
		price decimal.Decimal
		want  decimal.Decimal
	}{
		{dec(999), dec(999)},
		{decimal.NewFromFloat(1234.5), dec(1230)},
		{dec(67890), dec(67800)},
		{dec(600000), dec(600000)},
	}
	for _, c := range cases {
		got := TickRound(c.price)
		if !got.Equal(c.want) {
			t.Fatalf("TickRound(%s) = %s, want %s", c.price, got, c.want)
		}
	}
}

func TestBuyLimitPrice_AppliesPremiumAboveCurrent(t *testing.T) {
	current := dec(50000)
	limit := BuyLimitPrice(current, "momentum")
	if limit.LessThanOrEqual(current) {
		t.Fatalf("expected BUY limit above current price, got %s vs %s", limit, current)
	}
}

func TestSellLimitPrice_AutoSellUsesLargerDiscount(t *testing.T) {
	current := dec(50000)
	normal := SellLimitPrice(current, "gap", false)
	auto := SellLimitPrice(current, "gap", true)
	if !auto.LessThan(normal) {
		t.Fatalf("expected auto-sell discount to produce a lower limit than normal sell, got auto=%s normal=%s", auto, normal)
	}
}
