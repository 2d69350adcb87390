// Package alloc is the Subscription Allocator (spec §4.3): a hard-capped,
// priority-ordered admission table for realtime WebSocket slots.
//
// Grounded directly on original_source/core/kis_subscription_manager.py
// (Subscription dataclass, pending-add/remove sets, confirm_addition/
// confirm_removal semantics) generalized with the priority-displacement
// and rebalance operations the spec adds on top. Structured in the
// teacher's manager style (plain struct + mutex, constructor returns
// pointer) as seen in risk/manager.go.
package alloc

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kisquant/tradebot/types"
)

// NMax is the broker-imposed hard cap on concurrent realtime subscriptions.
const NMax = 41

// RebalanceInterval is the nominal period between rebalance passes; callers
// should jitter it (spec §4.3: "~5 minutes, jittered").
const RebalanceInterval = 5 * time.Minute

// ScoreEntry is one row of the scoreboard passed to Rebalance: a
// candidate's latest score for comparison against a seated slot.
type ScoreEntry struct {
	Symbol      types.Symbol
	Channel     types.Channel
	StrategyTag string
	Score       float64
}

// Allocator tracks the active/pending Slot set under NMax.
type Allocator struct {
	mu sync.Mutex

	active  map[string]types.Slot // key -> Slot
	pendAdd map[string]struct{}
	pendRem map[string]struct{}
}

// New builds an empty Allocator.
func New() *Allocator {
	return &Allocator{
		active:  make(map[string]types.Slot),
		pendAdd: make(map[string]struct{}),
		pendRem: make(map[string]struct{}),
	}
}

// occupied returns the current count pending the confirm cycle:
// |active| + |pending_add| − |pending_remove|. Pending additions are
// already held in active, so they are not counted a second time; only
// requested removals still present in active are subtracted.
func (a *Allocator) occupied() int {
	n := len(a.active)
	for k := range a.pendRem {
		if _, ok := a.active[k]; ok {
			n--
		}
	}
	return n
}

// CanAdmit reports whether one more slot would fit under NMax.
func (a *Allocator) CanAdmit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.occupied() < NMax
}

// RequestAdmit attempts to admit slot. Idempotent: re-requesting an
// already-active or already-pending slot is a no-op success. When full,
// the lowest-priority active slot is displaced iff slot's priority beats
// it; otherwise the request is rejected.
func (a *Allocator) RequestAdmit(slot types.Slot) (admitted bool, evicted *types.Slot) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := slot.Key()
	if _, ok := a.active[key]; ok {
		return true, nil
	}
	if _, ok := a.pendAdd[key]; ok {
		return true, nil
	}

	if a.occupied() < NMax {
		a.active[key] = slot
		a.pendAdd[key] = struct{}{}
		return true, nil
	}

	lowestKey, lowest, found := a.findLowestPriority()
	if !found || slot.Priority <= lowest.Priority {
		log.Debug().Str("symbol", string(slot.Symbol)).Int("priority", slot.Priority).Msg("alloc: admission rejected, no lower-priority slot to displace")
		return false, nil
	}

	delete(a.active, lowestKey)
	a.pendRem[lowestKey] = struct{}{}
	a.active[key] = slot
	a.pendAdd[key] = struct{}{}

	log.Info().Str("evicted", lowestKey).Str("admitted", key).Msg("alloc: displaced lowest-priority slot")
	displaced := lowest
	return true, &displaced
}

func (a *Allocator) findLowestPriority() (string, types.Slot, bool) {
	var (
		bestKey   string
		best      types.Slot
		found     bool
	)
	for k, s := range a.active {
		if _, pendingOut := a.pendRem[k]; pendingOut {
			continue
		}
		if !found || s.Priority < best.Priority {
			bestKey, best, found = k, s, true
		}
	}
	return bestKey, best, found
}

// RequestRemove marks key for removal; no-op if not active.
func (a *Allocator) RequestRemove(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.active[key]; !ok {
		return false
	}
	a.pendRem[key] = struct{}{}
	return true
}

// PendingAdditions returns the Slots awaiting subscribe confirmation.
func (a *Allocator) PendingAdditions() []types.Slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Slot, 0, len(a.pendAdd))
	for k := range a.pendAdd {
		if s, ok := a.active[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

// PendingRemovals returns the keys awaiting unsubscribe confirmation.
func (a *Allocator) PendingRemovals() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.pendRem))
	for k := range a.pendRem {
		out = append(out, k)
	}
	return out
}

// ConfirmAddition clears key from the pending-add set once the WebSocket
// layer has seen a subscribe ACK.
func (a *Allocator) ConfirmAddition(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pendAdd, key)
}

// ConfirmRemoval clears key from both the pending-remove set and the
// active table once the WebSocket layer has seen an unsubscribe ACK.
func (a *Allocator) ConfirmRemoval(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pendRem, key)
	delete(a.active, key)
}

// Active returns a snapshot of all currently active slots.
func (a *Allocator) Active() []types.Slot {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Slot, 0, len(a.active))
	for _, s := range a.active {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Rebalance compares the bottom-performing non-INDEX slots against the
// scoreboard; a scoreboard candidate beating a seated slot's score by at
// least 20% displaces it. Returns the swaps made.
func (a *Allocator) Rebalance(scoreboard []ScoreEntry) []Swap {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidates := make([]types.Slot, 0, len(a.active))
	for _, s := range a.active {
		if s.Channel != types.ChannelIndex {
			candidates = append(candidates, s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return scoreFor(scoreboard, candidates[i]) < scoreFor(scoreboard, candidates[j])
	})

	var swaps []Swap
	used := make(map[string]bool)
	for _, seated := range candidates {
		seatedScore := scoreFor(scoreboard, seated)
		best, bestScore, ok := bestChallenger(scoreboard, seated.Channel, used)
		if !ok {
			continue
		}
		if bestScore < seatedScore*1.2 {
			continue
		}

		key := seated.Key()
		delete(a.active, key)
		a.pendRem[key] = struct{}{}

		newSlot := types.Slot{
			Symbol:      best.Symbol,
			Channel:     best.Channel,
			Priority:    seated.Priority,
			StrategyTag: best.StrategyTag,
			CreatedAt:   time.Now(),
		}
		a.active[newSlot.Key()] = newSlot
		a.pendAdd[newSlot.Key()] = struct{}{}
		used[string(best.Symbol)] = true

		swaps = append(swaps, Swap{Out: seated, In: newSlot})
	}
	return swaps
}

// Swap is one rebalance displacement.
type Swap struct {
	Out types.Slot
	In  types.Slot
}

func scoreFor(board []ScoreEntry, s types.Slot) float64 {
	for _, e := range board {
		if e.Symbol == s.Symbol && e.Channel == s.Channel {
			return e.Score
		}
	}
	return 0
}

func bestChallenger(board []ScoreEntry, channel types.Channel, used map[string]bool) (ScoreEntry, float64, bool) {
	var best ScoreEntry
	found := false
	for _, e := range board {
		if e.Channel != channel || used[string(e.Symbol)] {
			continue
		}
		if !found || e.Score > best.Score {
			best, found = e, true
		}
	}
	return best, best.Score, found
}

// JitteredInterval returns RebalanceInterval +/- up to 20% jitter.
func JitteredInterval() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(RebalanceInterval / 5)))
	if rand.Intn(2) == 0 {
		return RebalanceInterval + jitter
	}
	return RebalanceInterval - jitter
}
