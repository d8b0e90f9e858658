package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/i2c2mqtt/internal/infrastructure/config"
)

// State is the connection state of a Session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// eventBuffer sizes the queue between paho callbacks and the supervisor.
const eventBuffer = 16

// Logger is the logging surface used by the session.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// brokerClient is the subset of pahomqtt.Client the session drives.
type brokerClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	IsConnected() bool
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventDisconnected
)

type event struct {
	kind eventKind
	rc   byte
	err  error
}

// dependencies are the seams replaced in tests.
type dependencies struct {
	newClient func(*pahomqtt.ClientOptions) brokerClient
	sleep     func(ctx context.Context, d time.Duration) error
}

func defaultDependencies() dependencies {
	return dependencies{
		newClient: func(opts *pahomqtt.ClientOptions) brokerClient {
			return pahomqtt.NewClient(opts)
		},
		sleep: sleepContext,
	}
}

// Session owns one logical connection to the MQTT broker.
//
// Thread Safety: all exported methods are safe for concurrent use.
// Connection state transitions happen only on the supervisor goroutine
// and in Open/Close.
type Session struct {
	client   brokerClient
	logger   Logger
	lwtTopic string
	qos      byte
	backoff  BackoffConfig
	sleep    func(ctx context.Context, d time.Duration) error

	stateMu sync.RWMutex
	state   State

	events    chan event
	done      chan struct{}
	connected chan struct{}
	firstOnce sync.Once
	failed    chan error

	attempts atomic.Int64

	callbackMu   sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open creates a session and performs the initial connect.
//
// Outcomes:
//   - broker unreachable: ErrConnectionFailed is returned
//   - broker refused the CONNECT: the refusal is logged with its return
//     code and the session is returned in StateDisconnected, no retry
//   - accepted: Open returns once the retained Online beacon has been sent
//
// The caller must Close the returned session.
func Open(ctx context.Context, cfg config.MQTTConfig, logger Logger) (*Session, error) {
	return open(ctx, cfg, logger, defaultDependencies())
}

func open(ctx context.Context, cfg config.MQTTConfig, logger Logger, deps dependencies) (*Session, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Session{
		logger:    logger,
		lwtTopic:  LWTTopic(cfg.BaseTopic),
		qos:       byte(cfg.QoS), //nolint:gosec // QoS validated 0-2 in config
		backoff:   BackoffFromConfig(cfg.Reconnect),
		sleep:     deps.sleep,
		state:     StateDisconnected,
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		connected: make(chan struct{}),
		failed:    make(chan error, 1),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, s.lwtTopic, s.qos)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.post(event{kind: eventConnected, rc: packets.Accepted})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.post(event{kind: eventDisconnected, err: err})
	})
	s.client = deps.newClient(opts)

	superCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.supervise(superCtx)

	s.setState(StateConnecting)
	s.logger.Info("connecting to MQTT broker",
		"host", cfg.Broker.Host,
		"port", cfg.Broker.Port,
		"client_id", opts.ClientID,
	)

	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		s.Close()
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		rc := returnCode(token)
		if isRefusal(rc) {
			s.logger.Error("MQTT broker refused connection",
				"return_code", rc,
				"reason", packets.ConnackReturnCodes[rc],
				"error", err,
			)
			s.setState(StateDisconnected)
			return s, nil
		}
		s.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	select {
	case <-s.connected:
		return s, nil
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case <-time.After(defaultConnectTimeout):
		s.Close()
		return nil, fmt.Errorf("%w: no connect confirmation after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
}

// post hands an event to the supervisor. It never blocks past Close.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) supervise(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			switch ev.kind {
			case eventConnected:
				s.handleConnected(ev.rc)
			case eventDisconnected:
				if !s.handleDisconnected(ctx, ev.err) {
					return
				}
			}
		}
	}
}

func (s *Session) handleConnected(rc byte) {
	if rc != packets.Accepted || !s.client.IsConnected() {
		s.logger.Error("MQTT connect event without live connection",
			"return_code", rc,
			"reason", packets.ConnackReturnCodes[rc],
		)
		return
	}

	s.setState(StateConnected)
	s.logger.Info("connected to MQTT broker")

	if err := s.publish(s.lwtTopic, PayloadOnline, true); err != nil {
		s.logger.Error("failed to publish online status", "topic", s.lwtTopic, "error", err)
	} else {
		s.logger.Debug("published online status", "topic", s.lwtTopic)
	}

	s.callbackMu.RLock()
	cb := s.onConnect
	s.callbackMu.RUnlock()
	if cb != nil {
		cb()
	}

	s.firstOnce.Do(func() { close(s.connected) })
}

// handleDisconnected runs the retry loop. It returns false when the
// supervisor should stop: the context was cancelled or attempts ran out.
func (s *Session) handleDisconnected(ctx context.Context, err error) bool {
	s.setState(StateReconnecting)
	s.logger.Error("disconnected from MQTT broker", "error", err)

	s.callbackMu.RLock()
	cb := s.onDisconnect
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(err)
	}

	b := NewBackoff(s.backoff)
	for {
		delay, ok := b.Next()
		if !ok {
			break
		}
		attempt := b.Attempt()

		s.logger.Info("reconnecting to MQTT broker",
			"attempt", attempt,
			"max_attempts", s.backoff.MaxAttempts,
			"delay", delay,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return false
		}

		s.attempts.Add(1)
		if err := s.connectOnce(); err != nil {
			s.logger.Error("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		s.setState(StateConnected)
		s.logger.Info("reconnected to MQTT broker", "attempt", attempt)
		return true
	}

	s.setState(StateFailed)
	s.logger.Error("giving up on MQTT broker", "attempts", s.backoff.MaxAttempts)
	s.failed <- fmt.Errorf("%w: after %d attempts", ErrReconnectExhausted, s.backoff.MaxAttempts)
	return false
}

func (s *Session) connectOnce() error {
	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("timeout after %v", defaultConnectTimeout)
	}
	return token.Error()
}

// Close stops the supervisor, publishes a retained Offline if connected,
// and disconnects. Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
		s.wg.Wait()

		if s.client.IsConnected() {
			if err := s.publish(s.lwtTopic, PayloadOffline, true); err != nil {
				s.logger.Warn("failed to publish offline status", "error", err)
			}
			s.client.Disconnect(defaultDisconnectQuiesce)
			s.logger.Info("disconnected from MQTT broker")
		}

		if s.State() != StateFailed {
			s.setState(StateDisconnected)
		}
	})
}

// Failed delivers ErrReconnectExhausted once the retry budget is spent.
func (s *Session) Failed() <-chan error {
	return s.failed
}

// State returns the current connection state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// ReconnectAttempts returns the total number of reconnect attempts made.
func (s *Session) ReconnectAttempts() int64 {
	return s.attempts.Load()
}

// HealthCheck verifies the session is connected.
func (s *Session) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.IsConnected() {
		return fmt.Errorf("%w: state %s", ErrNotConnected, s.State())
	}
	return nil
}

// SetOnConnect registers a callback invoked after every successful
// connect, once the Online beacon has been published.
func (s *Session) SetOnConnect(cb func()) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onConnect = cb
}

// SetOnDisconnect registers a callback invoked on connection loss,
// before the retry loop starts.
func (s *Session) SetOnDisconnect(cb func(err error)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onDisconnect = cb
}

// returnCode extracts the CONNACK code from a connect token.
// Tokens that carry no code are treated as network errors.
func returnCode(token pahomqtt.Token) byte {
	if rc, ok := token.(interface{ ReturnCode() byte }); ok {
		return rc.ReturnCode()
	}
	return packets.ErrNetworkError
}

// isRefusal reports whether rc is a CONNACK refusal from the broker.
func isRefusal(rc byte) bool {
	switch rc {
	case packets.ErrRefusedBadProtocolVersion,
		packets.ErrRefusedIDRejected,
		packets.ErrRefusedServerUnavailable,
		packets.ErrRefusedBadUsernameOrPassword,
		packets.ErrRefusedNotAuthorised:
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
