// Package rng hands out seeded random handles. The simulation never uses the
// process-wide generator: every stochastic decision draws from a handle
// derived from the run seed so two runs with the same seed reproduce
// bit-for-bit.
package rng

import "math/rand"

// New returns a generator for seed. Seed 0 is mapped to 1.
func New(seed int64) *rand.Rand {
	if seed == 0 {
		seed = 1
	}
	return rand.New(rand.NewSource(seed))
}

// Source derives independent generators from one run seed.
type Source struct {
	seed int64
}

// NewSource returns a Source for the run seed.
func NewSource(seed int64) *Source {
	return &Source{seed: seed}
}

// Seed returns the run seed.
func (s *Source) Seed() int64 { return s.seed }

// Stream returns a generator for a named consumer (a source controller, the
// agent factory). The same name always yields the same sequence.
func (s *Source) Stream(name string) *rand.Rand {
	h := uint64(s.seed)
	for i := 0; i < len(name); i++ {
		h = mix(h ^ uint64(name[i]))
	}
	return New(int64(h >> 1))
}

// Decision returns a generator dedicated to one navigation decision of one
// agent. It depends only on the run seed, the agent and its step count, so
// repeated evaluation of the same decision yields the same draws.
func (s *Source) Decision(agentID, step int) *rand.Rand {
	h := mix(uint64(s.seed) ^ mix(uint64(agentID)+0x632be59bd9b4e019))
	h = mix(h ^ uint64(step))
	return New(int64(h >> 1))
}

// mix is the splitmix64 finaliser.
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
