package executor

import "time"

// Backoff is the retry policy applied around each execution attempt.
// It separates what to retry (the executor's attempt loop) from when
// (the delay schedule).
type Backoff struct {
	// MaxAttempts bounds the number of attempts per Run call.
	MaxAttempts int
	// BaseDelay scales linearly with the failed attempt number:
	// attempt n waits BaseDelay*n before the next try.
	BaseDelay time.Duration
}

// DelayFor returns the wait after a failed attempt (1-indexed).
func (b Backoff) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.BaseDelay * time.Duration(attempt)
}

// Exhausted reports whether the given attempt number is past the limit.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxAttempts
}
