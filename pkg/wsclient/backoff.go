package wsclient

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: exponential growth capped at Cap, with
// multiplicative jitter in [0.75, 1.25]. After MaxAttempts failures no
// further automatic attempt is scheduled.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	Growth      float64
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:        2 * time.Second,
		Cap:         30 * time.Second,
		Growth:      1.5,
		MaxAttempts: 10,
	}
}

// Unjittered returns the deterministic delay for a 1-based attempt number.
func (b Backoff) Unjittered(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(b.Base) * math.Pow(b.Growth, float64(attempt-1)))
	if d > b.Cap {
		d = b.Cap
	}
	return d
}

// Delay applies the jitter factor to the unjittered delay.
func (b Backoff) Delay(attempt int) time.Duration {
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(b.Unjittered(attempt)) * jitter)
}

// Exhausted reports whether the attempt number is past the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxAttempts
}
