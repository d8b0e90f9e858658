// Package expander reads MCP23017 16-bit I/O expanders over I2C.
//
// Each device is configured once at startup with all 16 pins as inputs and
// the internal pull-ups enabled, so an open reed contact reads high and a
// closed one reads low. Steady-state reads return two bytes per device,
// port A then port B.
//
// The Source type reads every configured device in address order and
// concatenates the results into one snapshot:
//
//	bus, err := expander.OpenBus("1")
//	if err != nil {
//	    return err
//	}
//	defer bus.Close()
//
//	src, err := expander.NewSource(bus, []uint16{0x20, 0x21}, expander.RetryPolicy{Retries: 3})
//	if err != nil {
//	    return err
//	}
//	snapshot, err := src.ReadAll(ctx) // 4 bytes
//
// Register addresses assume IOCON.BANK=0, the power-on default.
package expander
