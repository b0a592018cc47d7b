package device

import "errors"

// ErrSensorUnsupported is returned by sensors this build cannot drive.
var ErrSensorUnsupported = errors.New("sensor is not supported on this platform")

// Thermometer supplies temperature readings in degrees Celsius.
type Thermometer interface {
	Read() (float64, error)
}

// SimulatedThermometer feeds its last reading back through a Simulator.
type SimulatedThermometer struct {
	sim     *Simulator
	current float64
}

// NewSimulatedThermometer starts the random walk at start.
func NewSimulatedThermometer(sim *Simulator, start float64) *SimulatedThermometer {
	return &SimulatedThermometer{sim: sim, current: start}
}

// Read advances the walk by one step and returns the new reading.
func (t *SimulatedThermometer) Read() (float64, error) {
	t.current = t.sim.Next(t.current)
	return t.current, nil
}
