// Package clock is the time seam injected into every cadence-driven
// subsystem — monitor cycles, token TTLs, sync rate windows, task pollers,
// update health deadlines — so tests advance a fake instead of sleeping.
package clock

import "time"

// Clock is the minimal surface those subsystems read time through.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Since(t time.Time) time.Duration
}

// Real delegates to the wall clock. The zero value is ready to use.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) Since(t time.Time) time.Duration { return time.Since(t) }
