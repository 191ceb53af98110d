package p2p

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff produces reconnect intervals that grow
// from base by factor on each call to Next,
// up to max,
// each randomly spread by ±jitter (a fraction).
// Reset returns it to base.
// It never gives up.
//
// A Backoff is not safe for concurrent use.
type Backoff struct {
	b *backoff.ExponentialBackOff
}

// NewBackoff creates a Backoff.
// Out-of-range arguments are replaced with defaults.
func NewBackoff(base, max time.Duration, factor, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 || max < base {
		max = 30 * time.Second
	}
	if factor < 1.0 {
		factor = 2.0
	}
	if jitter < 0 || jitter > 1 {
		jitter = 0.2
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = factor
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return &Backoff{b: b}
}

// Next returns the current interval and advances to the next one.
func (b *Backoff) Next() time.Duration {
	return b.b.NextBackOff()
}

// Reset returns b to its base interval.
func (b *Backoff) Reset() {
	b.b.Reset()
}
