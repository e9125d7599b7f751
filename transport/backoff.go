package transport

import "time"

// Backoff returns the reconnect delay for a 1-based attempt number: the base
// delay doubled for every prior attempt, capped at max. Deliberately without
// jitter so the schedule stays deterministic and observable.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
