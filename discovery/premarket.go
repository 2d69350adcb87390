package discovery

import (
	"context"
	"sort"
	"time"

	"github.com/kisquant/tradebot/broker"
	"github.com/kisquant/tradebot/types"
)

// PreMarketQuotas bounds how many symbols each source contributes to the
// after-hours standby pool (spec §4.5: "bounded per-source quotas").
var PreMarketQuotas = struct {
	MarketCapLeaders int
	HighVolume       int
	Momentum         int
}{
	MarketCapLeaders: 10,
	HighVolume:       15,
	Momentum:         10,
}

// ScreenPreMarket composes a deterministic standby candidate pool from
// three ranking sources, each capped at its own quota, and tags every
// candidate Standby=true for next-day consumption. Supplemented from
// original_source's after-hours screener; the distilled spec only named
// the requirement, not the per-source composition, which follows the
// same rank-then-cap shape as Scan's filters.
func (d *Discoverer) ScreenPreMarket(ctx context.Context) ([]types.Candidate, error) {
	changeRows, err := d.client.ChangeRanking(ctx)
	if err != nil {
		return nil, err
	}
	volumeRows, err := d.client.VolumeRanking(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []types.Candidate

	capLeaders := topByValue(changeRows, PreMarketQuotas.MarketCapLeaders)
	for _, e := range capLeaders {
		out = append(out, standbyCandidate(e, "market_cap_leader", now))
	}

	highVolume := topByVolume(volumeRows, PreMarketQuotas.HighVolume)
	for _, e := range highVolume {
		out = append(out, standbyCandidate(e, "high_volume", now))
	}

	momentum := topByChange(changeRows, PreMarketQuotas.Momentum)
	for _, e := range momentum {
		out = append(out, standbyCandidate(e, "momentum", now))
	}

	return dedupeCandidates(out), nil
}

func standbyCandidate(e broker.RankingEntry, tag string, now time.Time) types.Candidate {
	return types.Candidate{
		Symbol: e.Symbol, StrategyTag: tag, Score: mustFloat(e.ChangePct.String()),
		Reason: "premarket:" + tag, DiscoveredAt: now, Standby: true,
	}
}

func topByValue(rows []broker.RankingEntry, n int) []broker.RankingEntry {
	sorted := append([]broker.RankingEntry(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value.GreaterThan(sorted[j].Value) })
	return capSlice(sorted, n)
}

func topByVolume(rows []broker.RankingEntry, n int) []broker.RankingEntry {
	sorted := append([]broker.RankingEntry(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Volume > sorted[j].Volume })
	return capSlice(sorted, n)
}

func topByChange(rows []broker.RankingEntry, n int) []broker.RankingEntry {
	sorted := append([]broker.RankingEntry(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChangePct.GreaterThan(sorted[j].ChangePct) })
	return capSlice(sorted, n)
}

func capSlice(rows []broker.RankingEntry, n int) []broker.RankingEntry {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

func dedupeCandidates(in []types.Candidate) []types.Candidate {
	seen := make(map[string]bool)
	out := make([]types.Candidate, 0, len(in))
	for _, c := range in {
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
