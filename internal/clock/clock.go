// Package clock provides the time source used for interaction windows,
// rolling render counts and session timestamps.
//
// Every component takes a Clock instead of calling time.Now so that traces
// replay deterministically and tests can move time explicitly.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock. The returned times carry a monotonic reading,
// so differences between them are immune to wall-clock steps.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Millis converts a duration to fractional milliseconds, the unit used for
// render times and interaction timings on the wire.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FromMillis converts fractional milliseconds to a duration.
func FromMillis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
