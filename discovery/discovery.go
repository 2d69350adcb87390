// Package discovery is the Candidate Discovery component (spec §4.5):
// periodic scans of the broker's ranking endpoints, turned into scored,
// strategy-tagged Candidates after profit-potential filtering.
//
// Grounded on the teacher's strategy/phase_scalper.go scan-and-score loop
// (symbol iteration, deterministic per-row scoring against thresholds)
// generalized from Polymarket markets to equities ranking rows, and
// original_source/core/stock_discovery.py for the exact filter/scoring
// thresholds.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kisquant/tradebot/broker"
	"github.com/kisquant/tradebot/types"
)

// InstrumentClassifier reports whether a symbol belongs to a risky
// instrument class (ETN/ETF/SPAC/REIT) that discovery should skip. It is
// injected rather than hard-coded so tests can substitute a fixed table.
type InstrumentClassifier interface {
	IsRisky(symbol types.Symbol) bool
}

// AllowAllClassifier treats every symbol as non-risky; useful for tests
// and for brokers/markets where no instrument-class metadata is wired.
type AllowAllClassifier struct{}

func (AllowAllClassifier) IsRisky(types.Symbol) bool { return false }

// Filters holds the profit-potential filter bounds shared by every
// strategy's scan (spec §4.5).
var Filters = struct {
	MaxOneDayMovePct float64
	MinVolumeRatio   float64
}{
	MaxOneDayMovePct: 15.0,
	MinVolumeRatio:   1.5,
}

// row is the normalized shape a strategy scorer scores against,
// independent of which ranking endpoint produced it.
type row struct {
	Symbol       types.Symbol
	ChangePct    float64
	VolumeRatio  float64
	Volume       int64
	Price        float64
	ExecStrength float64
}

// Scorer evaluates one row for a strategy, returning (score, pass).
type Scorer func(row) (float64, bool)

// Discoverer scans ranking endpoints and produces scored Candidates.
type Discoverer struct {
	client     *broker.Client
	classifier InstrumentClassifier
}

// New builds a Discoverer.
func New(client *broker.Client, classifier InstrumentClassifier) *Discoverer {
	if classifier == nil {
		classifier = AllowAllClassifier{}
	}
	return &Discoverer{client: client, classifier: classifier}
}

// Scan runs every registered strategy scorer against the change-ranking
// and volume-ranking endpoints and returns deduplicated Candidates per
// strategy, already passed through the common profit-potential filters.
func (d *Discoverer) Scan(ctx context.Context) (map[string][]types.Candidate, error) {
	changeRows, err := d.client.ChangeRanking(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("discovery: change ranking scan failed")
	}
	volumeRows, err := d.client.VolumeRanking(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("discovery: volume ranking scan failed")
	}
	bidAskRows, err := d.client.BidAskRanking(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("discovery: bid/ask ranking scan failed")
	}

	rows := mergeRows(changeRows, volumeRows, bidAskRows)
	filtered := d.applyFilters(rows)

	out := make(map[string][]types.Candidate)
	now := time.Now()
	for tag, scorer := range strategyScorers {
		var cands []types.Candidate
		for _, r := range filtered {
			score, ok := scorer(r)
			if !ok {
				continue
			}
			cands = append(cands, types.Candidate{
				Symbol: r.Symbol, StrategyTag: tag, Score: score,
				Reason: tag + " scan match", DiscoveredAt: now,
			})
		}
		out[tag] = cands
	}
	return out, nil
}

// mergeRows combines the three ranking scans into one normalized row per
// symbol. Bid/ask ranking's imbalance value doubles as the execution-
// strength proxy momentum scoring needs (spec §4.5); the broker has no
// dedicated execution-strength endpoint.
func mergeRows(change, volume, bidAsk []broker.RankingEntry) []row {
	byFirst := make(map[types.Symbol]*row)
	for _, e := range change {
		byFirst[e.Symbol] = &row{
			Symbol:    e.Symbol,
			ChangePct: mustFloat(e.ChangePct.String()),
			Price:     mustFloat(e.Value.String()),
			Volume:    e.Volume,
		}
	}
	for _, e := range volume {
		r, ok := byFirst[e.Symbol]
		if !ok {
			r = &row{Symbol: e.Symbol, Price: mustFloat(e.Value.String()), Volume: e.Volume}
			byFirst[e.Symbol] = r
		}
		if r.Volume > 0 {
			r.VolumeRatio = float64(e.Volume) / float64(r.Volume)
		}
	}
	for _, e := range bidAsk {
		r, ok := byFirst[e.Symbol]
		if !ok {
			continue
		}
		r.ExecStrength = mustFloat(e.Value.String())
	}

	out := make([]row, 0, len(byFirst))
	for _, r := range byFirst {
		out = append(out, *r)
	}
	return out
}

func (d *Discoverer) applyFilters(rows []row) []row {
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		if abs(r.ChangePct) > Filters.MaxOneDayMovePct {
			continue
		}
		if r.VolumeRatio != 0 && r.VolumeRatio < Filters.MinVolumeRatio {
			continue
		}
		if d.classifier.IsRisky(r.Symbol) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func mustFloat(s string) float64 {
	var f float64
	fmt.Sscanf(s, "%f", &f)
	return f
}
