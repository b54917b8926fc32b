package meter

import (
	"math"
	"testing"
	"time"
)

func TestBurnWindow_Rate(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	w := newBurnWindow(10 * time.Minute)

	w.Add(now.Add(-2*time.Minute), 600)
	w.Add(now.Add(-5*time.Minute), 400)

	if got := w.Rate(now); got != 100 {
		t.Fatalf("Rate = %v tokens/min, want 100", got)
	}
}

func TestBurnWindow_OldBucketsExpire(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	w := newBurnWindow(10 * time.Minute)

	w.Add(now.Add(-30*time.Minute), 10_000)
	w.Add(now.Add(-time.Minute), 100)

	if got := w.Rate(now); got != 10 {
		t.Fatalf("Rate = %v, want 10 (stale bucket must not count)", got)
	}
	if len(w.buckets) != 1 {
		t.Fatalf("stale buckets not pruned: %d remain", len(w.buckets))
	}
}

func TestBurnWindow_SubMinuteWindow(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 30, 0, time.UTC)
	w := newBurnWindow(30 * time.Second)

	w.Add(now, 100)
	got := w.Rate(now)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("Rate = %v, must stay finite for sub-minute windows", got)
	}
	if got != 100 {
		t.Fatalf("Rate = %v, want 100", got)
	}

	if got := w.Rate(now.Add(5 * time.Minute)); got != 0 {
		t.Fatalf("Rate after the window passed = %v, want 0", got)
	}
}

func TestBurnWindow_SameMinuteAccumulates(t *testing.T) {
	now := time.Date(2026, time.March, 2, 12, 0, 30, 0, time.UTC)
	w := newBurnWindow(10 * time.Minute)

	w.Add(now, 50)
	w.Add(now.Add(10*time.Second), 50)
	if len(w.buckets) != 1 {
		t.Fatalf("expected one bucket, got %d", len(w.buckets))
	}
	if got := w.Rate(now.Add(time.Minute)); got != 10 {
		t.Fatalf("Rate = %v, want 10", got)
	}
}
