package mqtt

import (
	"time"

	"github.com/nerrad567/i2c2mqtt/internal/infrastructure/config"
)

// BackoffConfig bounds the reconnect retry loop.
type BackoffConfig struct {
	// Initial is the delay before the first attempt.
	Initial time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Rate multiplies the delay after each failed attempt.
	Rate int

	// MaxAttempts is the number of attempts before giving up.
	MaxAttempts int
}

// BackoffFromConfig converts the reconnect section of config.yaml.
func BackoffFromConfig(cfg config.MQTTReconnectConfig) BackoffConfig {
	return BackoffConfig{
		Initial:     time.Duration(cfg.InitialDelay) * time.Second,
		Max:         time.Duration(cfg.MaxDelay) * time.Second,
		Rate:        cfg.Rate,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Backoff yields the delay before each reconnect attempt.
// Not safe for concurrent use; each retry loop creates its own.
type Backoff struct {
	cfg     BackoffConfig
	delay   time.Duration
	attempt int
}

// NewBackoff returns a Backoff positioned before the first attempt.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, delay: cfg.Initial}
}

// Next returns the delay to wait before the next attempt.
// It returns false once MaxAttempts delays have been handed out.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.attempt >= b.cfg.MaxAttempts {
		return 0, false
	}

	d := b.delay
	b.attempt++

	next := b.delay * time.Duration(b.cfg.Rate)
	if next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.delay = next

	return d, true
}

// Attempt returns the number of delays handed out so far.
func (b *Backoff) Attempt() int {
	return b.attempt
}
