package bridge

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Base doubled per attempt, capped at Max,
// with the top Jitter fraction of each delay randomized.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	rand func() float64
}

// DefaultBackoff is used when the configuration leaves delays unset.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.5}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if ceiling < base {
		ceiling = base
	}
	d := base
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	d = min(d, ceiling)
	j := min(max(b.Jitter, 0), 1)
	if j == 0 {
		return d
	}
	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	fixed := time.Duration(float64(d) * (1 - j))
	return fixed + time.Duration(r()*float64(d-fixed))
}
