package dispatcher

import (
	"math"
	"time"
)

const (
	backoffBase   = 60 * time.Second
	backoffFactor = 1.5
	backoffCap    = 600 * time.Second
)

// Backoff returns the delay before redelivering a job on its n-th retry:
// min(600s, 60s * 1.5^n). Monotonically non-decreasing in n.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(backoffBase) * math.Pow(backoffFactor, float64(attempt)))
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}
