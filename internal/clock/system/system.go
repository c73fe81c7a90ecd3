// Package system provides a real clock implementation.
package system

import "time"

// Clock is the real wall-clock time source used outside of tests.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
