package contact

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Source reads the current pin state of every device, concatenated in
// device order.
type Source interface {
	ReadAll(ctx context.Context) ([]byte, error)
}

// Publisher sends a message to the broker.
// It is satisfied by *mqtt.Session.
type Publisher interface {
	Publish(topic, payload string, retained bool) error
}

// Recorder receives every detected transition, whether or not the publish
// succeeded. It is optional.
type Recorder interface {
	RecordTransition(t Transition, at time.Time)
}

// Metrics receives poll loop counters. It is optional.
type Metrics interface {
	ObservePoll(d time.Duration)
	ReadFailed()
	TransitionPublished()
	PublishFailed()
}

// Logger defines the logging interface for the poller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// noopMetrics discards all counters.
type noopMetrics struct{}

func (noopMetrics) ObservePoll(time.Duration) {}
func (noopMetrics) ReadFailed()               {}
func (noopMetrics) TransitionPublished()      {}
func (noopMetrics) PublishFailed()            {}

// Options holds configuration for creating a Poller.
type Options struct {
	// BaseTopic is inserted into stat/<base>/CONTACT<n>.
	BaseTopic string

	// Interval is the pause between the end of one cycle and the next.
	Interval time.Duration

	Source    Source
	Publisher Publisher

	// Recorder, Metrics and Logger are optional.
	Recorder Recorder
	Metrics  Metrics
	Logger   Logger
}

// Poller is the steady-state loop: read, diff, publish, wait.
//
// Thread Safety: Run and PollOnce must be called from a single goroutine.
// The previous snapshot is owned by that goroutine.
type Poller struct {
	baseTopic string
	interval  time.Duration
	source    Source
	publisher Publisher
	recorder  Recorder
	metrics   Metrics
	logger    Logger

	previous Snapshot
	now      func() time.Time
}

// NewPoller creates a poller with no previous snapshot.
func NewPoller(opts Options) (*Poller, error) {
	if opts.BaseTopic == "" {
		return nil, errors.New("contact: base topic is required")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("contact: interval must be > 0")
	}
	if opts.Source == nil {
		return nil, errors.New("contact: source is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("contact: publisher is required")
	}

	p := &Poller{
		baseTopic: opts.BaseTopic,
		interval:  opts.Interval,
		source:    opts.Source,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       time.Now,
	}
	if p.metrics == nil {
		p.metrics = noopMetrics{}
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	return p, nil
}

// Run polls until ctx is cancelled or a read fails.
// Cancellation returns nil; a read failure returns an error wrapping
// ErrReadFailed.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poll loop started", "interval", p.interval)
	defer p.logger.Info("poll loop stopped")

	for {
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.interval):
		}
	}
}

// PollOnce performs exactly one cycle and returns the transitions it
// published. The held snapshot is replaced even when nothing changed.
func (p *Poller) PollOnce(ctx context.Context) ([]Transition, error) {
	start := p.now()

	raw, err := p.source.ReadAll(ctx)
	if err != nil {
		p.metrics.ReadFailed()
		p.logger.Error("input read failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}

	// The source may reuse its buffer between reads.
	current := make(Snapshot, len(raw))
	copy(current, raw)

	transitions := Diff(p.previous, current)
	if p.previous == nil {
		p.logger.Info("baseline snapshot captured", "channels", len(current)*bitsPerByte)
	}

	for _, t := range transitions {
		p.publish(t)
		if p.recorder != nil {
			p.recorder.RecordTransition(t, start)
		}
	}

	p.previous = current
	p.metrics.ObservePoll(p.now().Sub(start))

	return transitions, nil
}

// publish sends one transition. Failures are logged and counted; the
// transition is not retried.
func (p *Poller) publish(t Transition) {
	topic := StateTopic(p.baseTopic, t.Channel)
	payload := t.Payload()

	if err := p.publisher.Publish(topic, payload, false); err != nil {
		p.metrics.PublishFailed()
		p.logger.Warn("failed to publish contact state",
			"channel", t.Channel,
			"state", payload,
			"error", err,
		)
		return
	}

	p.metrics.TransitionPublished()
	p.logger.Debug("contact state published", "topic", topic, "state", payload)
}
