package device

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRand always returns v.
type fixedRand int

func (f fixedRand) IntN(_ int) int { return int(f) }

func TestSimulatorIdleDraws(t *testing.T) {
	sim := NewSimulator(DefaultLowerLimit, DefaultUpperLimit, DefaultStep, fixedRand(1))

	for range 10 {
		assert.Equal(t, 27.0, sim.Next(27.0))
	}
}

func TestSimulatorStaysInRange(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		sim := NewSimulator(DefaultLowerLimit, DefaultUpperLimit, DefaultStep, rand.New(rand.NewPCG(seed, seed*7)))

		reading := DefaultLowerLimit
		for range 2000 {
			reading = sim.Next(reading)
			require.GreaterOrEqual(t, reading, DefaultLowerLimit)
			require.LessOrEqual(t, reading, DefaultUpperLimit)
		}
	}
}

func TestSimulatorClampsOutOfRangeStart(t *testing.T) {
	sim := NewSimulator(DefaultLowerLimit, DefaultUpperLimit, DefaultStep, fixedRand(0))

	assert.Equal(t, DefaultUpperLimit, sim.Next(40.0))
	assert.Equal(t, DefaultLowerLimit, sim.Next(10.0))
}

func TestSimulatorSawtooth(t *testing.T) {
	sim := NewSimulator(DefaultLowerLimit, DefaultUpperLimit, DefaultStep, fixedRand(0))

	var got []float64
	reading := DefaultLowerLimit
	for range 30 {
		reading = sim.Next(reading)
		got = append(got, reading)
	}

	want := []float64{
		25.5, 26, 26.5, 27, 27.5, 28, 28.5, 29, 29.5, 30, 30.5, 31, 31.5, 32,
		31.5, 31, 30.5, 30, 29.5, 29, 28.5, 28, 27.5, 27, 26.5, 26, 25.5, 25,
		25.5, 26,
	}
	assert.Equal(t, want, got)
}

func TestSimulatedThermometer(t *testing.T) {
	thermo := NewSimulatedThermometer(NewSimulator(DefaultLowerLimit, DefaultUpperLimit, DefaultStep, fixedRand(0)), 25)

	first, err := thermo.Read()
	require.NoError(t, err)
	second, err := thermo.Read()
	require.NoError(t, err)

	assert.Equal(t, 25.5, first)
	assert.Equal(t, 26.0, second)
}

func TestBME280Unsupported(t *testing.T) {
	if sensor, err := NewBME280(0x77, 1); err == nil {
		sensor.Close()
		t.Skip("running on hardware with a BME280")
	}

	_, err := NewBME280(0x77, 1)
	assert.Error(t, err)
}
