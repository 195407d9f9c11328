// Package clock is the only time source of the reconciliation engine.
//
// Every component that reads "now" or waits for a duration takes a Clock at
// construction. Production wiring uses System; tests use testutil.FakeClock
// and drive time forward explicitly, so scheduler ticks, grace periods and
// delinquency windows are deterministic.
package clock

import "time"

// Clock supplies the current time and future wake-ups.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// System is the wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// After delegates to time.After.
func (System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Since returns the time elapsed on c since t.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
