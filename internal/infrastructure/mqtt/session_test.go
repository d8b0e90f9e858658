package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/i2c2mqtt/internal/infrastructure/config"
)

const testBase = "Apartment/Window/Alarm"

// testConfig returns a valid MQTT configuration with the default reconnect budget.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host: "127.0.0.1",
			Port: 1883,
		},
		BaseTopic: testBase,
		QoS:       0,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
			Rate:         2,
			MaxAttempts:  12,
		},
	}
}

// =============================================================================
// Fake paho client
// =============================================================================

type fakeToken struct {
	err  error
	rc   byte
	done chan struct{}
}

func newFakeToken(err error, rc byte) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, rc: rc, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) ReturnCode() byte               { return t.rc }

type connectResult struct {
	err error
	rc  byte
}

type publishedMessage struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

// fakeClient records traffic and replays scripted connect results.
// Once the script is exhausted every Connect succeeds.
type fakeClient struct {
	mu           sync.Mutex
	opts         *pahomqtt.ClientOptions
	results      []connectResult
	connected    bool
	connects     int
	published    []publishedMessage
	disconnected bool
}

func (f *fakeClient) Connect() pahomqtt.Token {
	f.mu.Lock()
	f.connects++
	var res connectResult
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	if res.err == nil {
		f.connected = true
	}
	onConnect := f.opts.OnConnect
	f.mu.Unlock()

	if res.err == nil && onConnect != nil {
		go onConnect(nil)
	}
	return newFakeToken(res.err, res.rc)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := payload.(string)
	f.published = append(f.published, publishedMessage{topic: topic, payload: p, qos: qos, retained: retained})
	return newFakeToken(nil, 0)
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// dropConnection simulates the broker going away.
func (f *fakeClient) dropConnection(err error) {
	f.mu.Lock()
	f.connected = false
	onLost := f.opts.OnConnectionLost
	f.mu.Unlock()
	go onLost(nil, err)
}

func (f *fakeClient) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

func (f *fakeClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeClient) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

// recordingSleeper returns immediately and records requested delays.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

// openFake opens a session against a fake client scripted with results.
func openFake(t *testing.T, cfg config.MQTTConfig, sleep func(context.Context, time.Duration) error, results ...connectResult) (*Session, *fakeClient, error) {
	t.Helper()

	fake := &fakeClient{results: results}
	deps := dependencies{
		newClient: func(opts *pahomqtt.ClientOptions) brokerClient {
			fake.opts = opts
			return fake
		},
		sleep: sleep,
	}

	s, err := open(context.Background(), cfg, nil, deps)
	if s != nil {
		t.Cleanup(s.Close)
	}
	return s, fake, err
}

func onlineCount(msgs []publishedMessage) int {
	n := 0
	for _, m := range msgs {
		if m.topic == LWTTopic(testBase) && m.payload == PayloadOnline {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errLost = errors.New("connection reset by peer")

var errDial = errors.New("dial tcp 127.0.0.1:1883: connect: connection refused")

// =============================================================================
// Connection Tests
// =============================================================================

func TestOpen_ClientOptions(t *testing.T) {
	_, fake, err := openFake(t, testConfig(), sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	opts := fake.opts
	if !opts.WillEnabled {
		t.Error("WillEnabled = false, want true")
	}
	if opts.WillTopic != "tele/Apartment/Window/Alarm/LWT" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if string(opts.WillPayload) != PayloadOffline {
		t.Errorf("WillPayload = %q, want %q", opts.WillPayload, PayloadOffline)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if opts.ClientID != "Apartment-Window-Alarm" {
		t.Errorf("ClientID = %q, want Apartment-Window-Alarm", opts.ClientID)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
}

func TestOpen_TLSAndAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.Broker.ClientID = "bridge-1"
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	_, fake, err := openFake(t, cfg, sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	opts := fake.opts
	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig = nil, want config")
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.ClientID != "bridge-1" {
		t.Errorf("ClientID = %q, want bridge-1", opts.ClientID)
	}
}

func TestOpen_PublishesOnlineBeforeState(t *testing.T) {
	s, fake, err := openFake(t, testConfig(), sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	if s.State() != StateConnected {
		t.Fatalf("State() = %s, want connected", s.State())
	}

	if err := s.Publish("stat/Apartment/Window/Alarm/CONTACT1", "OPEN", false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs := fake.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %+v", len(msgs), msgs)
	}
	first := msgs[0]
	if first.topic != LWTTopic(testBase) || first.payload != PayloadOnline || !first.retained {
		t.Errorf("first message = %+v, want retained Online on LWT topic", first)
	}
	if onlineCount(msgs) != 1 {
		t.Errorf("Online published %d times, want 1", onlineCount(msgs))
	}
	second := msgs[1]
	if second.topic != "stat/Apartment/Window/Alarm/CONTACT1" || second.payload != "OPEN" || second.retained {
		t.Errorf("second message = %+v", second)
	}
}

func TestOpen_NetworkError(t *testing.T) {
	s, _, err := openFake(t, testConfig(), sleepContext,
		connectResult{err: errDial, rc: packets.ErrNetworkError})
	if err == nil {
		t.Fatal("open() expected error for unreachable broker")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("open() error = %v, want ErrConnectionFailed", err)
	}
	if s != nil {
		t.Error("open() returned a session on network error")
	}
}

func TestOpen_BrokerRefusal(t *testing.T) {
	s, fake, err := openFake(t, testConfig(), sleepContext,
		connectResult{err: errors.New("not Authorized"), rc: packets.ErrRefusedNotAuthorised})
	if err != nil {
		t.Fatalf("open() error = %v, want nil on refusal", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", s.State())
	}
	if fake.connectCount() != 1 {
		t.Errorf("Connect() called %d times, want 1 (no retry)", fake.connectCount())
	}
	if len(fake.messages()) != 0 {
		t.Errorf("published %d messages, want 0", len(fake.messages()))
	}
	if err := s.Publish("stat/x/CONTACT1", "OPEN", false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestIsRefusal(t *testing.T) {
	tests := []struct {
		rc   byte
		want bool
	}{
		{packets.Accepted, false},
		{packets.ErrRefusedBadProtocolVersion, true},
		{packets.ErrRefusedIDRejected, true},
		{packets.ErrRefusedServerUnavailable, true},
		{packets.ErrRefusedBadUsernameOrPassword, true},
		{packets.ErrRefusedNotAuthorised, true},
		{packets.ErrNetworkError, false},
		{packets.ErrProtocolViolation, false},
	}
	for _, tt := range tests {
		if got := isRefusal(tt.rc); got != tt.want {
			t.Errorf("isRefusal(%#x) = %v, want %v", tt.rc, got, tt.want)
		}
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish_Validation(t *testing.T) {
	s, _, err := openFake(t, testConfig(), sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	if err := s.Publish("", "OPEN", false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublish_UsesConfiguredQoS(t *testing.T) {
	cfg := testConfig()
	cfg.QoS = 1

	s, fake, err := openFake(t, cfg, sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	if err := s.Publish("stat/x/CONTACT2", "CLOSED", false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	msgs := fake.messages()
	if got := msgs[len(msgs)-1].qos; got != 1 {
		t.Errorf("qos = %d, want 1", got)
	}
	if fake.opts.WillQos != 1 {
		t.Errorf("WillQos = %d, want 1", fake.opts.WillQos)
	}
}

// =============================================================================
// Reconnect Tests
// =============================================================================

func TestReconnect_ReannouncesPresence(t *testing.T) {
	sleeper := &recordingSleeper{}
	s, fake, err := openFake(t, testConfig(), sleeper.sleep,
		connectResult{},
		connectResult{err: errDial},
		connectResult{err: errDial},
	)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	var disconnects, connects int
	var mu sync.Mutex
	s.SetOnDisconnect(func(error) {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})
	s.SetOnConnect(func() {
		mu.Lock()
		connects++
		mu.Unlock()
	})

	fake.dropConnection(errLost)

	waitFor(t, "second Online", func() bool { return onlineCount(fake.messages()) == 2 })

	if s.State() != StateConnected {
		t.Errorf("State() = %s, want connected", s.State())
	}
	if got := s.ReconnectAttempts(); got != 3 {
		t.Errorf("ReconnectAttempts() = %d, want 3", got)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	got := sleeper.recorded()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	waitFor(t, "on-connect callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 1
	})
	mu.Lock()
	if disconnects != 1 {
		t.Errorf("on-disconnect called %d times, want 1", disconnects)
	}
	mu.Unlock()
}

func TestReconnect_Exhausted(t *testing.T) {
	results := []connectResult{{}}
	for i := 0; i < 12; i++ {
		results = append(results, connectResult{err: errDial})
	}

	sleeper := &recordingSleeper{}
	s, fake, err := openFake(t, testConfig(), sleeper.sleep, results...)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	fake.dropConnection(errLost)

	select {
	case err := <-s.Failed():
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("Failed() = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Failed()")
	}

	if s.State() != StateFailed {
		t.Errorf("State() = %s, want failed", s.State())
	}
	if got := s.ReconnectAttempts(); got != 12 {
		t.Errorf("ReconnectAttempts() = %d, want 12", got)
	}
	if got := fake.connectCount(); got != 13 {
		t.Errorf("Connect() called %d times, want 13", got)
	}

	want := []int{1, 2, 4, 8, 16, 32, 60, 60, 60, 60, 60, 60}
	got := sleeper.recorded()
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %d entries", got, len(want))
	}
	for i, w := range want {
		if got[i] != time.Duration(w)*time.Second {
			t.Errorf("delay[%d] = %v, want %ds", i, got[i], w)
		}
	}

	s.Close()
	if s.State() != StateFailed {
		t.Errorf("State() after Close = %s, want failed", s.State())
	}
}

func TestReconnect_CloseInterruptsBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect.InitialDelay = 3600
	cfg.Reconnect.MaxDelay = 3600

	s, fake, err := openFake(t, cfg, sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	fake.dropConnection(errLost)
	waitFor(t, "reconnecting state", func() bool { return s.State() == StateReconnecting })

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() blocked during backoff sleep")
	}

	if s.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", s.State())
	}
	if fake.connectCount() != 1 {
		t.Errorf("Connect() called %d times, want 1", fake.connectCount())
	}
}

// =============================================================================
// Close and HealthCheck Tests
// =============================================================================

func TestClose_PublishesOffline(t *testing.T) {
	s, fake, err := openFake(t, testConfig(), sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	s.Close()

	msgs := fake.messages()
	last := msgs[len(msgs)-1]
	if last.topic != LWTTopic(testBase) || last.payload != PayloadOffline || !last.retained {
		t.Errorf("last message = %+v, want retained Offline on LWT topic", last)
	}
	if !fake.wasDisconnected() {
		t.Error("Disconnect() not called")
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", s.State())
	}

	// Second close is a no-op.
	s.Close()
	if got := len(fake.messages()); got != len(msgs) {
		t.Errorf("second Close() published %d more messages", got-len(msgs))
	}

	if err := s.Publish("stat/x/CONTACT1", "OPEN", false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheck(t *testing.T) {
	s, _, err := openFake(t, testConfig(), sleepContext)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	s.Close()
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}
