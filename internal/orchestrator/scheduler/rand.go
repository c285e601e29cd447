package scheduler

import "math/rand/v2"

// UniformJitter draws the scoring noise term from the process-wide
// math/rand/v2 source. It is safe for concurrent use across sessions.
type UniformJitter struct{}

// Jitter returns a value uniformly distributed in [-0.1, 0.1].
func (UniformJitter) Jitter() float64 {
	return rand.Float64()*0.2 - 0.1
}

// ZeroJitter always returns 0, making scheduling decisions deterministic.
// Tests use it to assert exact selection without fighting randomness.
type ZeroJitter struct{}

// Jitter always returns 0.
func (ZeroJitter) Jitter() float64 {
	return 0
}
