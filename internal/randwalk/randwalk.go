// Package randwalk advances bounded scalar random walks.
//
// It holds no state: callers own the current value and pass in the RNG, so a
// fixed seed reproduces an exact trajectory.
package randwalk

import "math/rand"

// Step samples a delta uniformly from [-delta, +delta], adds it to current and
// clamps the result to [floor, ceiling].
func Step(rng *rand.Rand, current, delta, floor, ceiling float64) float64 {
	return StepRange(rng, current, -delta, delta, floor, ceiling)
}

// StepRange is Step with an asymmetric delta range [lo, hi].
func StepRange(rng *rand.Rand, current, lo, hi, floor, ceiling float64) float64 {
	d := lo + rng.Float64()*(hi-lo)
	return Clamp(current+d, floor, ceiling)
}

// Clamp bounds v to [floor, ceiling].
func Clamp(v, floor, ceiling float64) float64 {
	if v < floor {
		return floor
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

// NewSource returns a seeded RNG. Seed 0 is a valid, fixed seed.
func NewSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
