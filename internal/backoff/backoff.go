// Package backoff maps consecutive-error counts to the wait windows the
// protocol mandates for the update and full-hash subflows.
package backoff

import (
	"math/rand/v2"
	"time"
)

// UpdateWait returns the wait before the next update attempt after the n-th
// consecutive error. The first error waits a flat minute; subsequent errors
// pick a uniform point in a doubling window, capped at eight hours.
func UpdateWait(n int) time.Duration {
	switch {
	case n <= 0:
		return 0
	case n == 1:
		return time.Minute
	case n >= 6:
		return 480 * time.Minute
	}
	// n=2: 30-60 min, n=3: 60-120 min, n=4: 120-240 min, n=5: 240-480 min.
	lo := time.Duration(30*(1<<(n-2))) * time.Minute
	return lo + rand.N(lo)
}

// FullHashWait returns how long a prefix is throttled after its n-th
// consecutive full-hash error. A second error is tolerated so a single
// flaky exchange does not block the prefix for half an hour.
func FullHashWait(n int) time.Duration {
	switch {
	case n <= 0 || n == 2:
		return 0
	case n == 1:
		return 5 * time.Minute
	case n == 3:
		return 30 * time.Minute
	case n == 4:
		return 60 * time.Minute
	default:
		return 120 * time.Minute
	}
}

// FullHashThrottled reports whether a prefix with the given error history
// must be skipped from the next full-hash request.
func FullHashThrottled(errors int, last, now time.Time) bool {
	wait := FullHashWait(errors)
	if wait == 0 {
		return false
	}
	return now.Before(last.Add(wait))
}
