package device

import (
	"math"
	"math/rand/v2"
)

// Simulator defaults.
const (
	DefaultLowerLimit = 25.0
	DefaultUpperLimit = 32.0
	DefaultStep       = 0.5

	// one call in sampleOdds produces a new reading
	sampleOdds = 4
)

// RandSource is satisfied by *rand.Rand from math/rand/v2.
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Simulator is a random walk between Lower and Upper. Three calls in four
// leave the reading unchanged. Otherwise the reading moves by Step in the
// current direction, which reverses at the limits.
type Simulator struct {
	Lower float64
	Upper float64
	Step  float64

	rnd       RandSource
	direction float64
}

// NewSimulator creates a simulator that starts rising. A nil rnd uses the
// global math/rand/v2 source.
func NewSimulator(lower, upper, step float64, rnd RandSource) *Simulator {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Simulator{
		Lower:     lower,
		Upper:     upper,
		Step:      math.Abs(step),
		rnd:       rnd,
		direction: math.Abs(step),
	}
}

// Next returns the reading that follows current.
func (s *Simulator) Next(current float64) float64 {
	if s.rnd.IntN(sampleOdds) != 0 {
		return current
	}

	switch {
	case current >= s.Upper:
		s.direction = -s.Step
	case current <= s.Lower:
		s.direction = s.Step
	}

	return min(max(current+s.direction, s.Lower), s.Upper)
}
