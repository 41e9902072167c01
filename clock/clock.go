// Package clock provides the monotonic/wall clock contract the core
// consumes (§6.3) plus a fixed test double so session-window tests never
// drift with host-local time.
package clock

import "time"

// Clock abstracts time so the core never calls time.Now()/time.Since()
// directly, matching the Non-goal "deterministic given inputs plus a
// monotonic clock."
type Clock interface {
	// Now returns wall-clock time, used for session windows and journaling.
	Now() time.Time
	// Monotonic returns a monotonic duration reading for elapsed-time math
	// (tick ordering, cooldown timers, latency budgets).
	Monotonic() time.Duration
}

// SystemClock is the production Clock, backed by the real runtime clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a SystemClock whose Monotonic() is relative to
// construction time.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() time.Time { return time.Now() }

func (c *SystemClock) Monotonic() time.Duration { return time.Since(c.start) }

// FixedClock is a test double pinned to a single instant; Advance moves it
// forward explicitly. Tests must use this instead of SystemClock to avoid
// host-local drift (see SPEC_FULL.md's resolution of the IST/DST Open
// Question).
type FixedClock struct {
	now  time.Time
	mono time.Duration
}

// NewFixedClock pins the clock to t with Monotonic() starting at zero.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t}
}

func (c *FixedClock) Now() time.Time { return c.now }

func (c *FixedClock) Monotonic() time.Duration { return c.mono }

// Advance moves both the wall and monotonic readings forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
	c.mono += d
}

// IST is the fixed reference time zone every session-window computation
// must use (NSE trading hours are defined in IST; India has no DST).
var IST = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}()
