package expander

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds per-device read retries.
type RetryPolicy struct {
	// Retries is the number of extra attempts after the first failure.
	Retries int

	// Delay is the pause between attempts.
	Delay time.Duration
}

// Logger defines the logging interface for the source.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Source reads every configured device in order.
//
// Thread Safety: Source is not safe for concurrent use; it is owned by the
// poll loop.
type Source struct {
	devices []*Device
	retry   RetryPolicy
	logger  Logger
	buf     []byte
}

// NewSource creates a source for the devices at addrs, in that order.
// Devices are not configured; call Configure before the first read.
func NewSource(bus Bus, addrs []uint16, retry RetryPolicy) (*Source, error) {
	if len(addrs) == 0 {
		return nil, ErrNoDevices
	}
	if retry.Retries < 0 {
		retry.Retries = 0
	}

	devices := make([]*Device, len(addrs))
	for i, a := range addrs {
		devices[i] = NewDevice(bus, a)
	}

	return &Source{
		devices: devices,
		retry:   retry,
		logger:  noopLogger{},
		buf:     make([]byte, 0, len(addrs)*portCount),
	}, nil
}

// SetLogger sets the logger used for retry warnings.
func (s *Source) SetLogger(logger Logger) {
	s.logger = logger
}

// Configure puts every device into input mode with pull-ups.
// Any failure aborts; there is no useful mode without working inputs.
func (s *Source) Configure() error {
	for _, d := range s.devices {
		if err := d.Configure(); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the snapshot length in bytes.
func (s *Source) Len() int {
	return len(s.devices) * portCount
}

// ReadAll reads all devices and returns the concatenated pin state.
// The returned slice is reused by the next call.
func (s *Source) ReadAll(ctx context.Context) ([]byte, error) {
	s.buf = s.buf[:0]
	for _, d := range s.devices {
		data, err := s.readDevice(ctx, d)
		if err != nil {
			return nil, err
		}
		s.buf = append(s.buf, data...)
	}
	return s.buf, nil
}

// readDevice reads one device, retrying per the policy.
func (s *Source) readDevice(ctx context.Context, d *Device) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retry.Retries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("device read failed, retrying",
				"address", fmt.Sprintf("0x%02x", d.Address()),
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retry.Delay):
			}
		}

		data, err := d.ReadAll()
		if err == nil {
			return data, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: device 0x%02x after %d attempts: %w",
		ErrReadFailed, d.Address(), s.retry.Retries+1, lastErr)
}
