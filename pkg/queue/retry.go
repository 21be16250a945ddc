package queue

import "time"

// NextDelay returns the exponential backoff before the given retry.
// attempt is 1-indexed for the first execution: NextDelay(1, d) == d,
// NextDelay(2, d) == 2d, doubling from there. No jitter is added here;
// the only randomness in the pipeline lives inside the simulated venues.
func NextDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		return base
	}
	if attempt > 32 {
		attempt = 32
	}
	return base << (attempt - 1)
}
