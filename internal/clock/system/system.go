// Package system implements the wall-clock Clock.
package system

import "time"

// Clock reports the current UTC time.
type Clock struct{}

// New returns a system Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
