package engine

import "time"

// Clock supplies wall time to a pass.
//
// A pass reads the clock once. Every timestamp the pass writes and every
// health label it computes uses that single instant, so a pass is a pure
// function of (candidates, catalog, snapshot, now).
//
// Implemented by SystemClock (production) and testutil.FixedClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time in UTC.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
