//go:build !(linux && arm)

package device

// BME280 is only available on linux/arm.
type BME280 struct{}

// NewBME280 always fails with ErrSensorUnsupported.
func NewBME280(_ uint8, _ int) (*BME280, error) {
	return nil, ErrSensorUnsupported
}

func (b *BME280) Read() (float64, error) {
	return 0, ErrSensorUnsupported
}

func (b *BME280) Close() error {
	return nil
}
