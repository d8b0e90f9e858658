package expander

import "errors"

// Domain errors for the expander package.
var (
	// ErrConfigureFailed is returned when a device cannot be put into input mode.
	ErrConfigureFailed = errors.New("expander: configure failed")

	// ErrReadFailed is returned when a device read still fails after all retries.
	ErrReadFailed = errors.New("expander: read failed")

	// ErrShortRead is returned when a device returns fewer bytes than requested.
	ErrShortRead = errors.New("expander: short read")

	// ErrNoDevices is returned when a Source is created without addresses.
	ErrNoDevices = errors.New("expander: no devices configured")
)
