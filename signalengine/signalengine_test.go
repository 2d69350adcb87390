package signalengine

import (
	"testing"
	"time"
)

func TestEvaluate_GapBuyRequiresChangeAboveThreshold(t *testing.T) {
	in := Input{StrategyTag: "gap", ChangePct: 2.0, Tech: TechBuy}
	sigs := Evaluate(in)
	if len(sigs) != 1 {
		t.Fatalf("expected one signal, got %d", len(sigs))
	}
	if sigs[0].StrategyTag != "gap" {
		t.Fatalf("expected gap strategy signal, got %s", sigs[0].StrategyTag)
	}
}

func TestEvaluate_RejectsOverboughtD5(t *testing.T) {
	in := Input{StrategyTag: "gap", ChangePct: 5.0, Tech: TechBuy, D5: 140}
	if sigs := Evaluate(in); len(sigs) != 0 {
		t.Fatalf("expected overbought D5 to reject all signals, got %d", len(sigs))
	}
}

func TestEvaluate_RejectsOverboughtD20(t *testing.T) {
	in := Input{StrategyTag: "gap", ChangePct: 5.0, Tech: TechBuy, D20: 130}
	if sigs := Evaluate(in); len(sigs) != 0 {
		t.Fatalf("expected overbought D20 to reject all signals, got %d", len(sigs))
	}
}

func TestEvaluate_DisparityReversalRequiresOversold(t *testing.T) {
	in := Input{StrategyTag: "disparity_reversal", D20: 95, D60: 90}
	if sigs := Evaluate(in); len(sigs) != 0 {
		t.Fatal("expected disparity_reversal to require D20<=90")
	}
}

func TestEvaluate_DisparityReversalFiresWhenOversold(t *testing.T) {
	in := Input{StrategyTag: "disparity_reversal", D20: 88, D60: 90, Tech: TechBuy}
	sigs := Evaluate(in)
	if len(sigs) != 1 {
		t.Fatalf("expected one disparity_reversal buy signal, got %d", len(sigs))
	}
	if sigs[0].StrategyTag != "disparity_reversal" {
		t.Fatalf("expected disparity_reversal strategy signal, got %s", sigs[0].StrategyTag)
	}
	if sigs[0].Strength <= 0 {
		t.Fatal("expected a positive strength for an oversold disparity_reversal buy")
	}
}

func TestEvaluate_PureTechnicalRequiresHighScore(t *testing.T) {
	in := Input{StrategyTag: "pure_technical", Tech: TechBuy, TechScore: 75, ChangePct: 1.0}
	sigs := Evaluate(in)
	if len(sigs) != 1 {
		t.Fatal("expected pure_technical buy to pass with tech_score>70")
	}

	weak := in
	weak.TechScore = 50
	if sigs := Evaluate(weak); len(sigs) != 0 {
		t.Fatal("expected pure_technical to reject tech_score<=70")
	}
}

func TestDeduplicator_BlocksWithinSixtySeconds(t *testing.T) {
	d := NewDeduplicator()
	now := time.Now()
	if !d.Allow("005930", "BUY", now) {
		t.Fatal("expected first emission to be allowed")
	}
	if d.Allow("005930", "BUY", now.Add(30*time.Second)) {
		t.Fatal("expected re-emission within 60s to be blocked")
	}
}

func TestDeduplicator_AllowsCrossSideIndependently(t *testing.T) {
	d := NewDeduplicator()
	now := time.Now()
	d.Allow("005930", "BUY", now)
	if !d.Allow("005930", "SELL", now) {
		t.Fatal("expected the opposite side to be independently allowed")
	}
}

func TestDeduplicator_AllowsAfterCooldownWindow(t *testing.T) {
	d := NewDeduplicator()
	now := time.Now()
	d.Allow("005930", "BUY", now)
	if !d.Allow("005930", "BUY", now.Add(301*time.Second)) {
		t.Fatal("expected re-emission to be allowed once the 300s cooldown has elapsed")
	}
}
