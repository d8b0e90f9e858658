package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "i2c2mqtt"

// SessionStats is the broker session view exported as metrics.
type SessionStats interface {
	IsConnected() bool
	ReconnectAttempts() int64
}

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Poll loop metrics
	PollDuration         prometheus.Histogram
	ReadFailures         prometheus.Counter
	TransitionsPublished prometheus.Counter
	PublishFailures      prometheus.Counter
}

// NewRegistry creates a registry with the poll loop metrics and the
// standard Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time spent reading, diffing and publishing one snapshot.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_failures_total",
			Help:      "Snapshot reads that failed after all retries.",
		}),
		TransitionsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_published_total",
			Help:      "Contact transitions published to the broker.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Contact transitions that could not be published.",
		}),
	}

	reg.MustRegister(
		r.PollDuration,
		r.ReadFailures,
		r.TransitionsPublished,
		r.PublishFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// RegisterSession exports broker connection state and reconnect attempts.
// Values are read from the session at scrape time.
func (r *Registry) RegisterSession(s SessionStats) {
	r.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the broker session is connected.",
		}, func() float64 {
			if s.IsConnected() {
				return 1
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_reconnect_attempts_total",
			Help:      "Reconnect attempts made by the broker session.",
		}, func() float64 {
			return float64(s.ReconnectAttempts())
		}),
	)
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObservePoll records the duration of one poll cycle.
func (r *Registry) ObservePoll(d time.Duration) {
	r.PollDuration.Observe(d.Seconds())
}

// ReadFailed counts a failed snapshot read.
func (r *Registry) ReadFailed() {
	r.ReadFailures.Inc()
}

// TransitionPublished counts a published transition.
func (r *Registry) TransitionPublished() {
	r.TransitionsPublished.Inc()
}

// PublishFailed counts a transition that failed to publish.
func (r *Registry) PublishFailed() {
	r.PublishFailures.Inc()
}
