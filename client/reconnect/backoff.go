package reconnect

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential retry policy with a cap.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// MaxRetries bounds consecutive failed attempts. Zero means unbounded.
	MaxRetries int
}

// DefaultBackoff starts at 3s and doubles up to 30s, giving up after ten
// consecutive failures.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    3 * time.Second,
		Multiplier: 2,
		Max:        30 * time.Second,
		Jitter:     0.1,
		MaxRetries: 10,
	}
}

func (b Backoff) normalized() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Jitter > 1 {
		b.Jitter = 1
	}
	return b
}

// Exhausted reports whether retry number attempt (zero based) is over the
// limit.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxRetries > 0 && attempt >= b.MaxRetries
}

// Delay returns the wait before retry number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}
