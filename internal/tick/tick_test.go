package tick

import (
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"
)

func TestSourceCountsWholeTicks(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1000, 0))
	src := New(fc, 10*time.Millisecond)

	if got := src.Now(); got != 0 {
		t.Fatalf("Now() at boot = %d, want 0", got)
	}
	fc.Step(25 * time.Millisecond)
	if got := src.Now(); got != 2 {
		t.Fatalf("Now() after 25ms = %d, want 2", got)
	}
	fc.Step(5 * time.Millisecond)
	if got := src.Now(); got != 3 {
		t.Fatalf("Now() after 30ms = %d, want 3", got)
	}
}

func TestSourceTimerFiresAfterTicks(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1000, 0))
	src := New(fc, time.Millisecond)

	tm := src.NewTimer(5)
	fc.Step(4 * time.Millisecond)
	select {
	case <-tm.C():
		t.Fatal("timer fired early")
	default:
	}
	fc.Step(time.Millisecond)
	select {
	case <-tm.C():
	default:
		t.Fatal("timer did not fire after 5 ticks")
	}
}

func TestFromDurationRoundsUp(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want Ticks
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{10 * time.Millisecond, 1},
		{11 * time.Millisecond, 2},
		{time.Second, 100},
	}
	for _, tt := range tests {
		if got := FromDuration(tt.d, 10*time.Millisecond); got != tt.want {
			t.Fatalf("FromDuration(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
