package jobs

import "time"

// maxBackoff caps exponential growth so a job never waits longer than this
// between attempts.
const maxBackoff = 15 * time.Minute

// backoffDelay computes the delay before the given attempt (1-based count
// of failures so far).
func backoffDelay(opts Options, failures int) time.Duration {
	base := opts.BackoffDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	if failures < 1 {
		failures = 1
	}

	switch opts.Backoff {
	case BackoffExponential:
		delay := base
		for i := 1; i < failures; i++ {
			delay *= 2
			if delay >= maxBackoff {
				return maxBackoff
			}
		}
		return delay
	case BackoffFixed:
		fallthrough
	default:
		return base
	}
}
