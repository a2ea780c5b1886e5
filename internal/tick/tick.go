// Package tick provides the monotonic tick clock the work queues run on.
//
// A tick is the scheduling quantum: delays are expressed in ticks and a
// queued item never becomes ready earlier than its delay, measured on this
// clock. Time is taken from a k8s.io/utils/clock.Clock so tests can drive
// it with a fake clock.
package tick

import (
	"time"

	"k8s.io/utils/clock"
)

// Ticks counts scheduling quanta since the clock was created.
type Ticks int64

// DefaultPeriod is the tick length used when none is configured.
const DefaultPeriod = 10 * time.Millisecond

// Clock is the time source used by work queues.
type Clock interface {
	// Now returns the number of whole ticks elapsed since boot.
	Now() Ticks
	// NewTimer returns a timer firing after n ticks.
	NewTimer(n Ticks) clock.Timer
	// Period returns the length of one tick.
	Period() time.Duration
}

// Source is a Clock backed by a k8s.io/utils clock.
type Source struct {
	clk    clock.Clock
	boot   time.Time
	period time.Duration
}

// New returns a tick source that counts from clk.Now().
// A non-positive period selects DefaultPeriod.
func New(clk clock.Clock, period time.Duration) *Source {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Source{clk: clk, boot: clk.Now(), period: period}
}

// NewReal returns a tick source on the wall clock's monotonic reading.
func NewReal(period time.Duration) *Source {
	return New(clock.RealClock{}, period)
}

func (s *Source) Now() Ticks {
	return Ticks(s.clk.Since(s.boot) / s.period)
}

func (s *Source) Period() time.Duration { return s.period }

func (s *Source) NewTimer(n Ticks) clock.Timer {
	if n < 0 {
		n = 0
	}
	return s.clk.NewTimer(s.Duration(n))
}

// Duration converts a tick count into wall time.
func (s *Source) Duration(n Ticks) time.Duration {
	return time.Duration(n) * s.period
}

// FromDuration converts d into ticks, rounding up so a delay is never
// shorter than requested.
func (s *Source) FromDuration(d time.Duration) Ticks {
	return FromDuration(d, s.period)
}

// FromDuration converts d into ticks of the given period, rounding up.
func FromDuration(d, period time.Duration) Ticks {
	if d <= 0 {
		return 0
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return Ticks((d + period - 1) / period)
}
