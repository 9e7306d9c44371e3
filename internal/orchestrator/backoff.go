package orchestrator

import (
	"math"
	"math/rand"
	"time"
)

// backoffWithJitter returns the wait before attempt n (1-based): base grown
// by multiplier per attempt, capped at max, then randomized into
// [wait/2, wait) so concurrent jobs do not poll in lockstep.
func backoffWithJitter(base, max time.Duration, multiplier float64, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if exp > float64(max) {
		exp = float64(max)
	}
	wait := time.Duration(exp)
	if wait <= 0 {
		wait = max
	}
	half := wait / 2
	if half <= 0 {
		return wait
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
