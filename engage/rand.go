package engage

import (
	"math/rand/v2"
	"time"
)

// Source of randomness for admission and selection. *rand.Rand from math/rand/v2 satisfies it;
// tests inject seeded or scripted sources.
type Rand interface {
	Float64() float64
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

func NewRand() *rand.Rand {
	seed := uint64(time.Now().UnixNano())
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// Bernoulli trial: true with probability p. p <= 0 never passes, p >= 1 always does.
func Chance(r Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.Float64() < p
}
