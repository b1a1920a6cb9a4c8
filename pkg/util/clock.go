package util

import "time"

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FakeClock returns a fixed, manually advanced time. Tests use it to pin
// order and trade timestamps.
type FakeClock struct {
	Time time.Time
}

func (c *FakeClock) Now() time.Time { return c.Time }

func (c *FakeClock) Advance(d time.Duration) { c.Time = c.Time.Add(d) }
