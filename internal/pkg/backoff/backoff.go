// Package backoff provides bounded exponential backoff with jitter for
// retrying embedding-backend calls.
package backoff

import (
	"math/rand"
	"time"
)

const maxDelay = 30 * time.Second

// Delay returns the wait before retry attempt n (1-based). Attempt 0 or lower
// returns 0. The base delay doubles each attempt, capped at 30s, with random
// jitter of -25% to +25%.
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > maxDelay {
		d = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2)) - d/4
	return d + jitter
}
