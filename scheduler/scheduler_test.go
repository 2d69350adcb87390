package scheduler

import (
	"testing"
	"time"

	"github.com/kisquant/tradebot/tradingday"
	"github.com/kisquant/tradebot/types"
)

func mkSlot(name string, startH, endH int, prep time.Duration) types.TimeSlot {
	return types.TimeSlot{
		Name:              name,
		StartTime:         time.Date(2000, 1, 1, startH, 0, 0, 0, tradingday.MarketTZ),
		EndTime:           time.Date(2000, 1, 1, endH, 0, 0, 0, tradingday.MarketTZ),
		PreparationOffset: prep,
	}
}

func TestNextSlot_PicksEarliestNotYetEnded(t *testing.T) {
	slots := []types.TimeSlot{
		mkSlot("morning", 9, 11, 15*time.Minute),
		mkSlot("afternoon", 13, 15, 15*time.Minute),
	}
	s := New(slots, nil, Hooks{})

	now := time.Date(2026, 8, 3, 8, 0, 0, 0, tradingday.MarketTZ)
	slot, ok := s.nextSlot(now)
	if !ok || slot.Name != "morning" {
		t.Fatalf("expected morning slot, got %+v ok=%v", slot, ok)
	}
}

func TestNextSlot_SkipsSlotsAlreadyEnded(t *testing.T) {
	slots := []types.TimeSlot{
		mkSlot("morning", 9, 11, 15*time.Minute),
		mkSlot("afternoon", 13, 15, 15*time.Minute),
	}
	s := New(slots, nil, Hooks{})

	now := time.Date(2026, 8, 3, 12, 0, 0, 0, tradingday.MarketTZ)
	slot, ok := s.nextSlot(now)
	if !ok || slot.Name != "afternoon" {
		t.Fatalf("expected afternoon slot once morning has ended, got %+v ok=%v", slot, ok)
	}
}

func TestNextSlot_NoneLeftToday(t *testing.T) {
	slots := []types.TimeSlot{mkSlot("morning", 9, 11, 15*time.Minute)}
	s := New(slots, nil, Hooks{})

	now := time.Date(2026, 8, 3, 16, 0, 0, 0, tradingday.MarketTZ)
	_, ok := s.nextSlot(now)
	if ok {
		t.Fatal("expected no slot once the day's only slot has ended")
	}
}

func TestSlotBoundary_UsesSlotOffsetOverDefault(t *testing.T) {
	slot := mkSlot("morning", 9, 11, 20*time.Minute)
	now := time.Date(2026, 8, 3, 8, 0, 0, 0, tradingday.MarketTZ)
	b := slotBoundary(now, slot, defaultPrepOffset)
	want := time.Date(2026, 8, 3, 8, 40, 0, 0, tradingday.MarketTZ)
	if !b.Equal(want) {
		t.Fatalf("expected boundary %v, got %v", want, b)
	}
}

func TestSlotBoundary_FallsBackToDefaultOffset(t *testing.T) {
	slot := mkSlot("morning", 9, 11, 0)
	now := time.Date(2026, 8, 3, 8, 0, 0, 0, tradingday.MarketTZ)
	b := slotBoundary(now, slot, defaultPrepOffset)
	want := time.Date(2026, 8, 3, 8, 45, 0, 0, tradingday.MarketTZ)
	if !b.Equal(want) {
		t.Fatalf("expected default-offset boundary %v, got %v", want, b)
	}
}
