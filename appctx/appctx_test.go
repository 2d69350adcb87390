package appctx

import (
	"testing"
	"time"
)

func TestFakeClock_AdvanceMovesNow(t *testing.T) {
	start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	fc := NewFakeClock(start)
	if !fc.Now().Equal(start) {
		t.Fatalf("expected Now() to equal the pinned start, got %v", fc.Now())
	}
	fc.Advance(5 * time.Minute)
	want := start.Add(5 * time.Minute)
	if !fc.Now().Equal(want) {
		t.Fatalf("expected Now() to advance to %v, got %v", want, fc.Now())
	}
}

func TestNew_BuildsSystemClockContext(t *testing.T) {
	c := New(nil)
	before := time.Now()
	now := c.Now()
	if now.Before(before.Add(-time.Second)) {
		t.Fatal("expected Context.Now() to track the real system clock")
	}
}
