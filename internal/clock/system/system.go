// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock implements crawler.Clock using time.Now in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Since returns the elapsed time since t according to the clock.
func (c Clock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}
