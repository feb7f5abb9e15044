package domain

import "time"

// Clock provides time operations. This interface enables deterministic testing.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the actual system time.
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock implements Clock with a fixed time for testing.
type FixedClock struct {
	At time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time {
	return c.At
}
