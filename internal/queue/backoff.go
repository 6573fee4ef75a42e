package queue

import "time"

const (
	DefaultBaseDelay = 2 * time.Second
	DefaultMaxDelay  = 5 * time.Minute
)

// Backoff computes retry delays. The schedule is capped exponential:
// base*2^(attempt-1), never above Max. Deterministic so the schedule is
// reproducible from the attempt count alone.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func NewBackoff(base, max time.Duration) Backoff {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	return Backoff{Base: base, Max: max}
}

// Delay returns the wait before the given attempt. Attempts are 1-based:
// attempt 1 already failed once.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
