package expander

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Bus is register-level access to devices on a shared bus.
type Bus interface {
	// WriteRegister writes one byte to a device register.
	WriteRegister(addr uint16, reg, value byte) error

	// ReadRegisters reads n consecutive registers starting at reg.
	ReadRegisters(addr uint16, reg byte, n int) ([]byte, error)

	// Close releases the bus.
	Close() error
}

// i2cBus implements Bus on a periph.io I2C bus.
type i2cBus struct {
	bus i2c.BusCloser
}

// OpenBus initialises the periph.io host drivers and opens the named I2C bus.
// name may be a bus number ("1") or a device path ("/dev/i2c-1").
func OpenBus(name string) (Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising host drivers: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening i2c bus %q: %w", name, err)
	}

	return &i2cBus{bus: bus}, nil
}

func (b *i2cBus) WriteRegister(addr uint16, reg, value byte) error {
	return b.bus.Tx(addr, []byte{reg, value}, nil)
}

func (b *i2cBus) ReadRegisters(addr uint16, reg byte, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := b.bus.Tx(addr, []byte{reg}, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *i2cBus) Close() error {
	return b.bus.Close()
}
