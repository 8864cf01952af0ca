package transport

import (
	"math"
	"time"
)

// backoff produces multiplicatively growing reconnect delays, capped at a
// hard maximum. Reset on every successful connect.
type backoff struct {
	base    time.Duration
	cap     time.Duration
	factor  float64
	attempt int
}

func newBackoff(base, cap time.Duration, factor float64) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if cap < base {
		cap = base
	}
	if factor < 1 {
		factor = 2
	}
	return &backoff{base: base, cap: cap, factor: factor}
}

func (b *backoff) Next() time.Duration {
	d := time.Duration(float64(b.base) * math.Pow(b.factor, float64(b.attempt)))
	if d <= 0 || d > b.cap {
		d = b.cap
	}
	b.attempt++
	return d
}

func (b *backoff) Reset() { b.attempt = 0 }
