package contact

import "errors"

// Domain errors for the contact package.
var (
	// ErrReadFailed is returned by Run when the input source cannot be read.
	// The poll loop has no degraded mode, so this ends the process.
	ErrReadFailed = errors.New("contact: input read failed")
)
