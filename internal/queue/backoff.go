package queue

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before a failed delivery is retried:
// exponential growth from Base by Factor per attempt, capped at Max, with
// jitter of up to half the computed delay added on top.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoff matches the documented cutter retry curve.
var DefaultBackoff = BackoffPolicy{
	Base:   2 * time.Second,
	Factor: 2,
	Max:    5 * time.Minute,
}

// Delay returns the backoff for the given attempt number (1-based: the delay
// applied after the first failed delivery is Delay(1)).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	delay := time.Duration(d)
	if delay > p.Max {
		delay = p.Max
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	delay += jitter
	if delay > p.Max {
		delay = p.Max
	}
	return delay
}
