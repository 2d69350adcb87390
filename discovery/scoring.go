package discovery

// strategyScorers holds the deterministic per-strategy scoring predicates
// from spec §4.5. Thresholds are enforced as lower bounds, never upper.
var strategyScorers = map[string]Scorer{
	"gap":              scoreGap,
	"volume_breakout":  scoreVolumeBreakout,
	"momentum":         scoreMomentum,
}

func scoreGap(r row) (float64, bool) {
	gapPct := r.ChangePct // gap approximated by the day's change-ranking row
	if gapPct < 2.5 || gapPct > 15 {
		return 0, false
	}
	if r.ChangePct < 1.5 {
		return 0, false
	}
	if r.VolumeRatio < 2.5 {
		return 0, false
	}
	if r.Price < 1000 || r.Price > 300000 {
		return 0, false
	}
	return gapPct * r.ChangePct * r.VolumeRatio / 10, true
}

func scoreVolumeBreakout(r row) (float64, bool) {
	volumeIncreasePct := (r.VolumeRatio - 1) * 100
	if volumeIncreasePct < 300 {
		return 0, false
	}
	if r.ChangePct < 2 {
		return 0, false
	}
	return volumeIncreasePct * r.ChangePct / 50, true
}

func scoreMomentum(r row) (float64, bool) {
	if r.ExecStrength < 120 {
		return 0, false
	}
	if r.ChangePct < 2.5 {
		return 0, false
	}
	if r.Volume < 100000 {
		return 0, false
	}
	return r.ExecStrength * r.ChangePct / 20, true
}
