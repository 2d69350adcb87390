package tradingday

import (
	"testing"
	"time"
)

func TestIsTradingDay_ExcludesWeekends(t *testing.T) {
	saturday := time.Date(2026, 8, 1, 9, 0, 0, 0, MarketTZ)
	if IsTradingDay(saturday, nil) {
		t.Fatal("expected Saturday to not be a trading day")
	}
	monday := time.Date(2026, 8, 3, 9, 0, 0, 0, MarketTZ)
	if !IsTradingDay(monday, nil) {
		t.Fatal("expected Monday to be a trading day")
	}
}

type fixedHolidays struct{ dates map[string]bool }

func (f fixedHolidays) IsHoliday(d time.Time) bool {
	return f.dates[d.Format("2006-01-02")]
}

func TestIsTradingDay_RespectsHolidaySet(t *testing.T) {
	monday := time.Date(2026, 8, 3, 9, 0, 0, 0, MarketTZ)
	holidays := fixedHolidays{dates: map[string]bool{"2026-08-03": true}}
	if IsTradingDay(monday, holidays) {
		t.Fatal("expected holiday-flagged weekday to not be a trading day")
	}
}

func TestNextPreparationBoundary_PicksEarliestUpcoming(t *testing.T) {
	now := time.Date(2026, 8, 3, 8, 0, 0, 0, MarketTZ)
	slots := []time.Time{
		time.Date(2000, 1, 1, 9, 0, 0, 0, MarketTZ),
		time.Date(2000, 1, 1, 13, 0, 0, 0, MarketTZ),
	}
	boundary, ok := NextPreparationBoundary(now, slots, []time.Duration{15 * time.Minute, 15 * time.Minute})
	if !ok {
		t.Fatal("expected a preparation boundary to be found")
	}
	want := time.Date(2026, 8, 3, 8, 45, 0, 0, MarketTZ)
	if !boundary.Equal(want) {
		t.Fatalf("expected boundary %v, got %v", want, boundary)
	}
}

func TestNextPreparationBoundary_NoneLeftToday(t *testing.T) {
	now := time.Date(2026, 8, 3, 16, 0, 0, 0, MarketTZ)
	slots := []time.Time{time.Date(2000, 1, 1, 9, 0, 0, 0, MarketTZ)}
	_, ok := NextPreparationBoundary(now, slots, []time.Duration{15 * time.Minute})
	if ok {
		t.Fatal("expected no boundary left once the day's only slot has passed")
	}
}
