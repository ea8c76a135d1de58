package scheduler

import (
	"net/http"
	"strconv"
	"time"
)

// Backoff delays applied after each failed callback attempt (0-indexed).
var backoffDelays = []time.Duration{
	0,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	3 * time.Hour,
	8 * time.Hour,
	24 * time.Hour,
}

// CalculateBackoffDelay returns the delay before attempt attemptCount
// (1-indexed). Attempts past the table reuse its last entry.
func CalculateBackoffDelay(attemptCount int) time.Duration {
	index := attemptCount - 1
	if index < 0 {
		index = 0
	}
	if index >= len(backoffDelays) {
		index = len(backoffDelays) - 1
	}
	return backoffDelays[index]
}

// ParseRetryAfterHeader parses a Retry-After value given either as seconds or
// as an HTTP date.
func ParseRetryAfterHeader(retryAfter string, now time.Time) (time.Duration, bool) {
	if retryAfter == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	if at, err := http.ParseTime(retryAfter); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
