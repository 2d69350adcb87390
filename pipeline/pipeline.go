package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kisquant/tradebot/broker"
	"github.com/kisquant/tradebot/types"
)

// Cache sizing/TTL per spec §4.4.
const (
	priceCacheMax = 500
	priceCacheTTL = 10 * time.Second

	bookCacheMax = 200
	bookCacheTTL = 30 * time.Second

	barsCacheMax = 100
	barsCacheTTL = 300 * time.Second

	restBatchSize  = 5
	restBatchPause = 500 * time.Millisecond
)

// tierTTL is the freshness window IsStale uses to judge staleness,
// distinct from the cache TTL (spec §4.4: "stale if now-ts > FRESHNESS_TTL
// (tier-specific)").
var tierTTL = map[types.Tier]time.Duration{
	types.TierCritical:   5 * time.Second,
	types.TierHigh:       5 * time.Second,
	types.TierMedium:     30 * time.Second,
	types.TierLow:        60 * time.Second,
	types.TierBackground: 300 * time.Second,
}

var tierPollInterval = map[types.Tier]time.Duration{
	types.TierMedium:     30 * time.Second,
	types.TierLow:        60 * time.Second,
	types.TierBackground: 300 * time.Second,
}

// Callback is invoked on every tick for a symbol, from whichever source
// produced it.
type Callback func(symbol types.Symbol, source string, quote types.Quote)

type tracked struct {
	tier        types.Tier
	strategyTag string
	callback    Callback
	lastUpdate  time.Time
}

// Pipeline unifies realtime WebSocket pushes and polled REST pulls behind
// a single latest()/on_tick() interface, per symbol tier.
type Pipeline struct {
	mu       sync.RWMutex
	tracked  map[types.Symbol]*tracked
	source   map[types.Symbol]string // "ws" | "rest", last producer

	prices *ttlLRU[types.Quote]
	books  *ttlLRU[types.Orderbook]
	bars   *ttlLRU[[]broker.Bar]

	client *broker.Client
}

// New builds a Pipeline backed by client for REST polling.
func New(client *broker.Client) *Pipeline {
	return &Pipeline{
		tracked: make(map[types.Symbol]*tracked),
		source:  make(map[types.Symbol]string),
		prices:  newTTLLRU[types.Quote](priceCacheMax, priceCacheTTL),
		books:   newTTLLRU[types.Orderbook](bookCacheMax, bookCacheTTL),
		bars:    newTTLLRU[[]broker.Bar](barsCacheMax, barsCacheTTL),
		client:  client,
	}
}

// Add starts tracking symbol at tier, optionally invoking cb on every
// update. Re-adding an already-tracked symbol overwrites its tier/tag/cb.
func (p *Pipeline) Add(symbol types.Symbol, tier types.Tier, strategyTag string, cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracked[symbol] = &tracked{tier: tier, strategyTag: strategyTag, callback: cb}
}

// Remove stops tracking symbol and drops its cached state.
func (p *Pipeline) Remove(symbol types.Symbol) {
	p.mu.Lock()
	delete(p.tracked, symbol)
	delete(p.source, symbol)
	p.mu.Unlock()
	p.prices.Remove(string(symbol))
	p.books.Remove(string(symbol))
}

// Upgrade raises a symbol's tier. Downgrades are rejected (spec §4.4).
func (p *Pipeline) Upgrade(symbol types.Symbol, newTier types.Tier) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tracked[symbol]
	if !ok {
		return false
	}
	if tierRank(newTier) <= tierRank(t.tier) {
		return false
	}
	t.tier = newTier
	return true
}

func tierRank(t types.Tier) int {
	switch t {
	case types.TierCritical:
		return 4
	case types.TierHigh:
		return 3
	case types.TierMedium:
		return 2
	case types.TierLow:
		return 1
	default:
		return 0
	}
}

// Latest returns the freshest Quote available for symbol across tiers,
// the producing source ("ws"/"rest"), and its age. ok is false if nothing
// has ever been recorded.
func (p *Pipeline) Latest(symbol types.Symbol) (quote types.Quote, source string, age time.Duration, ok bool) {
	quote, age, ok = p.prices.Get(string(symbol))
	if !ok {
		return types.Quote{}, "", 0, false
	}
	p.mu.RLock()
	source = p.source[symbol]
	p.mu.RUnlock()
	return quote, source, age, true
}

// LatestBook returns the freshest Orderbook snapshot for symbol.
func (p *Pipeline) LatestBook(symbol types.Symbol) (types.Orderbook, time.Duration, bool) {
	return p.books.Get(string(symbol))
}

// OnTick is the internal fan-out point: every producer (WebSocket frame
// decoder or REST poll) calls this with the new Quote. It updates the
// cache and invokes the registered callback.
func (p *Pipeline) OnTick(symbol types.Symbol, source string, quote types.Quote) {
	p.prices.Set(string(symbol), quote)

	p.mu.Lock()
	p.source[symbol] = source
	t, ok := p.tracked[symbol]
	if ok {
		t.lastUpdate = time.Now()
	}
	p.mu.Unlock()

	if ok && t.callback != nil {
		t.callback(symbol, source, quote)
	}
}

// OnBookTick stores an orderbook update in the book cache. Unlike OnTick
// it records no source and invokes no callback.
func (p *Pipeline) OnBookTick(symbol types.Symbol, book types.Orderbook) {
	p.books.Set(string(symbol), book)
}

// IsStale reports whether symbol's latest quote has aged past its tier's
// freshness TTL.
func (p *Pipeline) IsStale(symbol types.Symbol) bool {
	p.mu.RLock()
	t, ok := p.tracked[symbol]
	p.mu.RUnlock()
	if !ok {
		return true
	}
	_, age, present := p.prices.Get(string(symbol))
	if !present {
		return true
	}
	return age > tierTTL[t.tier]
}

// DowngradeTierForRank applies the priority downgrade rule (spec §4.4):
// the Nth candidate (0-indexed) within a strategy gets baseTier −
// ⌊N/5⌋, bounded to BACKGROUND.
func DowngradeTierForRank(baseTier types.Tier, rank int) types.Tier {
	steps := rank / 5
	rankOrder := []types.Tier{types.TierCritical, types.TierHigh, types.TierMedium, types.TierLow, types.TierBackground}
	idx := 0
	for i, t := range rankOrder {
		if t == baseTier {
			idx = i
			break
		}
	}
	idx += steps
	if idx >= len(rankOrder) {
		idx = len(rankOrder) - 1
	}
	return rankOrder[idx]
}

// RunPolling drives the REST-tier polling loop (MEDIUM/LOW/BACKGROUND)
// until ctx is cancelled: each tier is scanned on its own ticker, and due
// symbols are fetched in bounded batches of restBatchSize with a pause
// between batches to respect the rate limiter.
func (p *Pipeline) RunPolling(ctx context.Context) {
	var wg sync.WaitGroup
	for tier, interval := range tierPollInterval {
		wg.Add(1)
		go func(tier types.Tier, interval time.Duration) {
			defer wg.Done()
			p.pollTierLoop(ctx, tier, interval)
		}(tier, interval)
	}
	wg.Wait()
}

func (p *Pipeline) pollTierLoop(ctx context.Context, tier types.Tier, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollTierOnce(ctx, tier)
		}
	}
}

func (p *Pipeline) pollTierOnce(ctx context.Context, tier types.Tier) {
	due := p.symbolsForTier(tier)
	for i := 0; i < len(due); i += restBatchSize {
		end := i + restBatchSize
		if end > len(due) {
			end = len(due)
		}
		batch := due[i:end]

		var wg sync.WaitGroup
		for _, sym := range batch {
			wg.Add(1)
			go func(sym types.Symbol) {
				defer wg.Done()
				q, err := p.client.CurrentPrice(ctx, sym)
				if err != nil {
					log.Debug().Err(err).Str("symbol", string(sym)).Msg("pipeline: poll failed")
					return
				}
				p.OnTick(sym, "rest", q)
			}(sym)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			return
		case <-time.After(restBatchPause):
		}
	}
}

func (p *Pipeline) symbolsForTier(tier types.Tier) []types.Symbol {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []types.Symbol
	for sym, t := range p.tracked {
		if t.tier == tier {
			out = append(out, sym)
		}
	}
	return out
}

// Sweep clears expired entries from all three caches. Nothing in this
// package calls it on a timer: expired entries that are never read again
// stay cached until Sweep is called or LRU eviction drops them.
func (p *Pipeline) Sweep() (prices, books, bars int) {
	return p.prices.Sweep(), p.books.Sweep(), p.bars.Sweep()
}
