// Package clock defines the Clock collaborator (spec.md §6): a
// monotonically nondecreasing now() returning wall-clock UTC timestamps.
package clock

import "time"

// Clock abstracts wall-clock reads so tests can inject deterministic time.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock, backed by time.Now.
type Real struct{}

var _ Clock = Real{}

// Now returns the current UTC time, truncated to millisecond precision per
// spec.md §4.3 ("timestamp = Clock.now() (UTC, ms precision...)").
func (Real) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
