// Package scheduler is the Time-Slot Scheduler (spec §4.6): a wall-clock
// state machine over a config-defined partition of the trading day, each
// slot declaring primary/secondary strategy weights.
//
// Grounded on the teacher's core/engine.go main loop shape (phase-driven
// dispatch, context-cancellable run loop) generalized from Polymarket's
// continuous scan loop to the spec's discrete slot/preparation/execution
// phases, with the KST wall-clock helpers of tradingday.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kisquant/tradebot/tradingday"
	"github.com/kisquant/tradebot/types"
)

// Phase is where the scheduler is within the currently active slot.
type Phase string

const (
	PhaseIdle        Phase = "IDLE"
	PhasePreparation Phase = "PREPARATION"
	PhaseExecution   Phase = "EXECUTION"
)

const (
	offHoursSleep      = 30 * time.Minute
	discoveryBudget    = 60 * time.Second
	defaultPrepOffset  = 15 * time.Minute
)

// Hooks are the callbacks the scheduler drives at each transition. All
// are optional; nil hooks are skipped.
type Hooks struct {
	// Cleanup removes a slot's working-set symbols from the Data Pipeline.
	// Always called before the next slot's preparation begins.
	Cleanup func(ctx context.Context, slot types.TimeSlot)
	// Prepare runs discovery+admission for the slot concurrently per
	// strategy; must itself respect the ctx deadline (discoveryBudget).
	Prepare func(ctx context.Context, slot types.TimeSlot) error
	// Activate flips the working set live at slot.start.
	Activate func(slot types.TimeSlot)
}

// Scheduler drives the slot state machine.
type Scheduler struct {
	mu    sync.RWMutex
	slots []types.TimeSlot
	clock tradingday.Clock
	hooks Hooks

	phase       Phase
	activeSlot  *types.TimeSlot
}

// New builds a Scheduler over the given disjoint slots (start < end,
// spec §3). clock defaults to the real wall clock if nil.
func New(slots []types.TimeSlot, clock tradingday.Clock, hooks Hooks) *Scheduler {
	if clock == nil {
		clock = tradingday.SystemClock{}
	}
	return &Scheduler{slots: slots, clock: clock, hooks: hooks, phase: PhaseIdle}
}

// Phase returns the scheduler's current phase.
func (s *Scheduler) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// ActiveSlot returns the currently active slot, if any.
func (s *Scheduler) ActiveSlot() (types.TimeSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeSlot == nil {
		return types.TimeSlot{}, false
	}
	return *s.activeSlot, true
}

// Run drives the scheduler until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		now := tradingday.NowInMarketTZ(s.clock)
		slot, ok := s.nextSlot(now)
		if !ok {
			s.sleepOffHours(ctx)
			continue
		}

		boundary := slotBoundary(now, slot, defaultPrepOffset)
		if err := s.sleepUntil(ctx, boundary); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		s.runCleanup(ctx, slot)
		s.runPreparation(ctx, slot)
		s.runExecution(ctx, slot, now)
	}
}

func (s *Scheduler) nextSlot(now time.Time) (types.TimeSlot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best types.TimeSlot
	found := false
	for _, slot := range s.slots {
		end := combineTimeOfDay(now, slot.EndTime)
		if end.Before(now) {
			continue
		}
		if !found || slot.StartTime.Before(best.StartTime) {
			best, found = slot, true
		}
	}
	return best, found
}

func slotBoundary(now time.Time, slot types.TimeSlot, defaultOffset time.Duration) time.Time {
	offset := slot.PreparationOffset
	if offset == 0 {
		offset = defaultOffset
	}
	return combineTimeOfDay(now, slot.StartTime).Add(-offset)
}

func combineTimeOfDay(base, tod time.Time) time.Time {
	tod = tod.In(tradingday.MarketTZ)
	return time.Date(base.Year(), base.Month(), base.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, tradingday.MarketTZ)
}

func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *Scheduler) sleepOffHours(ctx context.Context) {
	log.Debug().Dur("sleep", offHoursSleep).Msg("scheduler: off-hours, no slot pending")
	select {
	case <-ctx.Done():
	case <-time.After(offHoursSleep):
	}
}

// runCleanup always runs before a new slot's preparation, per spec §4.6.
func (s *Scheduler) runCleanup(ctx context.Context, slot types.TimeSlot) {
	s.mu.RLock()
	prev := s.activeSlot
	s.mu.RUnlock()
	if prev == nil || s.hooks.Cleanup == nil {
		return
	}
	s.hooks.Cleanup(ctx, *prev)
}

func (s *Scheduler) runPreparation(ctx context.Context, slot types.TimeSlot) {
	s.setPhase(PhasePreparation)
	if s.hooks.Prepare == nil {
		return
	}
	prepCtx, cancel := context.WithTimeout(ctx, discoveryBudget)
	defer cancel()
	if err := s.hooks.Prepare(prepCtx, slot); err != nil {
		log.Warn().Err(err).Str("slot", slot.Name).Msg("scheduler: preparation incomplete, proceeding best-effort")
	}
}

func (s *Scheduler) runExecution(ctx context.Context, slot types.TimeSlot, prepStart time.Time) {
	s.mu.Lock()
	s.activeSlot = &slot
	s.phase = PhaseExecution
	s.mu.Unlock()

	if s.hooks.Activate != nil {
		s.hooks.Activate(slot)
	}

	end := combineTimeOfDay(prepStart, slot.EndTime)
	s.sleepUntil(ctx, end)
}

func (s *Scheduler) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}
