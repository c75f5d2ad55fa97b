package resilience

import (
	"testing"
	"time"
)

func TestReconnectQuickFailureSequence(t *testing.T) {
	p := DefaultReconnectPolicy()
	want := []time.Duration{
		5000 * time.Millisecond,
		10000 * time.Millisecond,
		20000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}

	for attempt, w := range want {
		got, ok := p.Next(attempt, 200*time.Millisecond)
		if !ok {
			t.Fatalf("attempt %d: Next() gave up early", attempt)
		}
		if got != w {
			t.Errorf("attempt %d: delay = %v, want %v", attempt, got, w)
		}
	}

	if _, ok := p.Next(len(want), 200*time.Millisecond); ok {
		t.Error("Next() should stop after 5 attempts")
	}
}

func TestReconnectStableConnection(t *testing.T) {
	p := DefaultReconnectPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tt := range tests {
		got, ok := p.Next(tt.attempt, time.Minute)
		if !ok || got != tt.want {
			t.Errorf("Next(%d, 1m) = (%v, %v), want (%v, true)", tt.attempt, got, ok, tt.want)
		}
	}
}

func TestReconnectBoundary(t *testing.T) {
	p := DefaultReconnectPolicy()
	if got, _ := p.Next(0, time.Second); got != time.Second {
		t.Errorf("exactly 1s lifetime should use the normal base, got %v", got)
	}
	if got, _ := p.Next(0, 999*time.Millisecond); got != 5*time.Second {
		t.Errorf("999ms lifetime should use the slow base, got %v", got)
	}
}

func TestReconnectDisabled(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 0}
	if _, ok := p.Next(0, time.Minute); ok {
		t.Error("MaxAttempts 0 should never reconnect")
	}
}
