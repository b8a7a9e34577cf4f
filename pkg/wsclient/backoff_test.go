package wsclient

import (
	"testing"
	"time"
)

func TestBackoffUnjittered(t *testing.T) {
	b := DefaultBackoff()

	want := []time.Duration{
		2000 * time.Millisecond,
		3000 * time.Millisecond,
		4500 * time.Millisecond,
		6750 * time.Millisecond,
	}
	for i, expected := range want {
		if got := b.Unjittered(i + 1); got != expected {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, expected)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	b := DefaultBackoff()

	prev := time.Duration(0)
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		d := b.Unjittered(attempt)
		if d < prev {
			t.Errorf("attempt %d: delay %v decreased from %v", attempt, d, prev)
		}
		if d > b.Cap {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, d, b.Cap)
		}
		prev = d
	}
	// Attempt 8 is 2000 * 1.5^7 ≈ 34.2s, past the cap.
	if got := b.Unjittered(8); got != b.Cap {
		t.Errorf("attempt 8: got %v, want cap %v", got, b.Cap)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := DefaultBackoff()

	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		base := b.Unjittered(attempt)
		lo := time.Duration(float64(base) * 0.75)
		hi := time.Duration(float64(base) * 1.25)
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	b := DefaultBackoff()

	if b.Exhausted(10) {
		t.Error("attempt 10 should be within budget")
	}
	if !b.Exhausted(11) {
		t.Error("attempt 11 should exhaust the budget")
	}
}
