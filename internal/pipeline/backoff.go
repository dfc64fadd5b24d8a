package pipeline

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before re-queuing a retryable failure.
// The base delay doubles per attempt up to the cap; jitter adds up to
// JitterPct percent on top so synchronized retries spread out. Because the
// jitter is strictly additive, delays never decrease while doubling.
type BackoffPolicy struct {
	Base      time.Duration
	Cap       time.Duration
	JitterPct int
}

// Delay returns the wait before the next attempt, given how many attempts
// have already completed (attempt >= 1).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}

	if p.JitterPct > 0 {
		span := int64(delay) * int64(p.JitterPct) / 100
		if span > 0 {
			delay += time.Duration(rand.Int63n(span + 1))
		}
	}

	return delay
}
