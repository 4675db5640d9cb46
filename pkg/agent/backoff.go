package agent

import (
	"math/rand"
	"time"
)

// backoff produces bounded exponential delays with jitter for retrying
// transient failures.
type backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

func newBackoff() *backoff {
	return &backoff{
		base: time.Second,
		cap:  60 * time.Second,
	}
}

// next returns the delay before the following attempt: base doubled
// per attempt, capped, with +-20% jitter.
func (b *backoff) next() time.Duration {
	d := b.base << b.attempt
	if d > b.cap || d <= 0 {
		d = b.cap
	} else {
		b.attempt++
	}

	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// reset restarts the progression after a success.
func (b *backoff) reset() {
	b.attempt = 0
}
