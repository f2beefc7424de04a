// Package timeutil centralizes time handling so it can be swapped in tests.
package timeutil

import "time"

// NowUTC returns the current time in UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}
