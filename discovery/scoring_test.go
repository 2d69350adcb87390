package discovery

import "testing"

func TestScoreGap_RequiresAllLowerBounds(t *testing.T) {
	ok := func(r row) bool { _, ok := scoreGap(r); return ok }

	passing := row{ChangePct: 3.0, VolumeRatio: 3.0, Price: 50000}
	if !ok(passing) {
		t.Fatal("expected a row meeting every gap threshold to pass")
	}

	tooSmallGap := passing
	tooSmallGap.ChangePct = 1.0
	if ok(tooSmallGap) {
		t.Fatal("expected gap below 2.5%% to be rejected")
	}

	tooBigGap := passing
	tooBigGap.ChangePct = 20
	if ok(tooBigGap) {
		t.Fatal("expected gap above 15%% to be rejected")
	}

	thinVolume := passing
	thinVolume.VolumeRatio = 1.0
	if ok(thinVolume) {
		t.Fatal("expected volume_ratio below 2.5 to be rejected")
	}

	offBandPrice := passing
	offBandPrice.Price = 500000
	if ok(offBandPrice) {
		t.Fatal("expected price outside [1k,300k] to be rejected")
	}
}

func TestScoreVolumeBreakout(t *testing.T) {
	r := row{VolumeRatio: 5.0, ChangePct: 3.0} // (5-1)*100 = 400% increase
	score, ok := scoreVolumeBreakout(r)
	if !ok {
		t.Fatal("expected 400%% volume increase with 3%% change to pass")
	}
	want := 400.0 * 3.0 / 50
	if score != want {
		t.Fatalf("expected score %v, got %v", want, score)
	}

	weak := row{VolumeRatio: 2.0, ChangePct: 3.0} // only 100% increase
	if _, ok := scoreVolumeBreakout(weak); ok {
		t.Fatal("expected volume increase below 300%% to be rejected")
	}
}

func TestScoreMomentum(t *testing.T) {
	r := row{ExecStrength: 150, ChangePct: 3.0, Volume: 200000}
	score, ok := scoreMomentum(r)
	if !ok {
		t.Fatal("expected a row meeting all momentum thresholds to pass")
	}
	want := 150.0 * 3.0 / 20
	if score != want {
		t.Fatalf("expected score %v, got %v", want, score)
	}

	lowVolume := r
	lowVolume.Volume = 1000
	if _, ok := scoreMomentum(lowVolume); ok {
		t.Fatal("expected volume below 100k to be rejected")
	}
}
