package expander

import "fmt"

// MCP23017 register addresses (IOCON.BANK=0).
const (
	regIODIRA = 0x00
	regIODIRB = 0x01
	regGPPUA  = 0x0C
	regGPPUB  = 0x0D
	regGPIOA  = 0x12
)

// portCount is the number of 8-bit ports per device.
const portCount = 2

// allPins sets every bit of a port register.
const allPins = 0xFF

// Device is a single MCP23017 on a bus.
type Device struct {
	bus  Bus
	addr uint16
}

// NewDevice returns a handle for the device at addr. It does not touch the bus.
func NewDevice(bus Bus, addr uint16) *Device {
	return &Device{bus: bus, addr: addr}
}

// Address returns the device's bus address.
func (d *Device) Address() uint16 {
	return d.addr
}

// Configure sets all pins to input with pull-ups enabled.
func (d *Device) Configure() error {
	writes := []struct {
		reg   byte
		value byte
	}{
		{regIODIRA, allPins},
		{regIODIRB, allPins},
		{regGPPUA, allPins},
		{regGPPUB, allPins},
	}

	for _, w := range writes {
		if err := d.bus.WriteRegister(d.addr, w.reg, w.value); err != nil {
			return fmt.Errorf("%w: device 0x%02x register 0x%02x: %w", ErrConfigureFailed, d.addr, w.reg, err)
		}
	}
	return nil
}

// ReadAll returns the pin state of port A then port B.
// Sequential addressing (IOCON.SEQOP=0) lets one transfer cover both ports.
func (d *Device) ReadAll() ([]byte, error) {
	data, err := d.bus.ReadRegisters(d.addr, regGPIOA, portCount)
	if err != nil {
		return nil, err
	}
	if len(data) != portCount {
		return nil, fmt.Errorf("%w: device 0x%02x returned %d bytes", ErrShortRead, d.addr, len(data))
	}
	return data, nil
}
