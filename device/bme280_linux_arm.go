//go:build linux && arm

package device

import (
	"fmt"

	"github.com/d2r2/go-bsbmp"
	"github.com/d2r2/go-i2c"
	"github.com/d2r2/go-logger"
)

// BME280 reads temperature from a Bosch BME280 on an I2C bus.
type BME280 struct {
	conn   *i2c.I2C
	sensor *bsbmp.BMP
}

// NewBME280 opens the sensor at addr on bus. Use 'i2cdetect -y 1' to find
// the address, usually 0x76 or 0x77.
func NewBME280(addr uint8, bus int) (*BME280, error) {
	_ = logger.ChangePackageLogLevel("i2c", logger.InfoLevel)
	_ = logger.ChangePackageLogLevel("bsbmp", logger.InfoLevel)

	conn, err := i2c.NewI2C(addr, bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %d: %w", bus, err)
	}

	sensor, err := bsbmp.NewBMP(bsbmp.BME280, conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init bme280: %w", err)
	}

	return &BME280{conn: conn, sensor: sensor}, nil
}

// Read returns the compensated temperature in degrees Celsius.
func (b *BME280) Read() (float64, error) {
	t, err := b.sensor.ReadTemperatureC(bsbmp.ACCURACY_STANDARD)
	if err != nil {
		return 0, err
	}

	return float64(t), nil
}

func (b *BME280) Close() error {
	return b.conn.Close()
}
