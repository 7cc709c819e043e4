package fetchcache

import "time"

// backoffPolicy computes the wait between fetch attempts: the initial delay
// doubles each attempt up to the ceiling. There is no attempt cap; upstream
// flakiness is expected and the caller retries until the context ends.
type backoffPolicy struct {
	initial time.Duration
	ceiling time.Duration
}

func newBackoffPolicy(initial, ceiling time.Duration) backoffPolicy {
	if initial <= 0 {
		initial = 250 * time.Millisecond
	}
	if ceiling < initial {
		ceiling = initial
	}
	return backoffPolicy{initial: initial, ceiling: ceiling}
}

// Backoff returns the delay before attempt n (0-based).
func (p backoffPolicy) Backoff(attempt int) time.Duration {
	delay := p.initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.ceiling {
			return p.ceiling
		}
	}
	return delay
}
