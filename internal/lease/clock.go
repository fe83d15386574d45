// Package lease converts lease durations into absolute expiries and back.
//
// Expiries are absolute times on the local clock. They never cross the wire:
// a sender transmits the microseconds remaining and the receiver rebuilds an
// expiry on its own clock, so independently-clocked nodes agree on duration
// even when they disagree on wall time.
package lease

import (
	"math"
	"time"

	"golang.org/x/exp/constraints"
)

// Clock is the time source a LeaseClock reads.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Forever is the expiry of a lease governed by liveness rather than time.
var Forever = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// ForeverUsecs is the wire encoding of Forever.
const ForeverUsecs = math.MaxInt64

// LeaseClock turns lease lengths into expiries against a Clock.
type LeaseClock struct {
	clock Clock
}

// NewLeaseClock returns a LeaseClock reading c.
func NewLeaseClock(c Clock) *LeaseClock {
	return &LeaseClock{clock: c}
}

// Now returns the current time of the underlying clock.
func (l *LeaseClock) Now() time.Time { return l.clock.Now() }

// Expiry returns the absolute expiry for a lease of usecs microseconds, or
// Forever when liveness is set.
func (l *LeaseClock) Expiry(usecs uint64, liveness bool) time.Time {
	if liveness || usecs >= uint64(ForeverUsecs)/uint64(time.Microsecond) {
		return Forever
	}
	return l.clock.Now().Add(time.Duration(usecs) * time.Microsecond)
}

// Remaining returns the time left until expiry, never negative.
func (l *LeaseClock) Remaining(expiry time.Time) time.Duration {
	if expiry.Equal(Forever) {
		return time.Duration(math.MaxInt64)
	}
	return nonNegative(expiry.Sub(l.clock.Now()))
}

// RemainingUsecs returns the microseconds left until expiry for transmission.
func (l *LeaseClock) RemainingUsecs(expiry time.Time) int64 {
	if expiry.IsZero() {
		return 0
	}
	if expiry.Equal(Forever) {
		return ForeverUsecs
	}
	return l.Remaining(expiry).Microseconds()
}

// FromRemainingUsecs rebuilds an absolute expiry from a transmitted remainder.
func (l *LeaseClock) FromRemainingUsecs(usecs int64) time.Time {
	switch {
	case usecs == ForeverUsecs:
		return Forever
	case usecs <= 0:
		return time.Time{}
	}
	return l.clock.Now().Add(time.Duration(usecs) * time.Microsecond)
}

func nonNegative[T constraints.Signed](v T) T {
	if v < 0 {
		return 0
	}
	return v
}
