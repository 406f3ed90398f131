// Package metrics exposes the relay's Prometheus instruments. All methods are
// safe on a nil *Collector so callers can run with metrics disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

const namespace = "relaybot"

// Collector groups all Prometheus instruments used by the relay. It owns its
// registry so tests and multiple instances never collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec
	Relays           *prometheus.CounterVec
	RelayLatency     *prometheus.HistogramVec
	GatewayErrors    *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	InFlight         prometheus.Gauge
	startTime        time.Time
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages accepted for handling, by channel.",
		}, []string{"channel"}),
		Relays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relays_total",
			Help:      "Handled messages by pipeline and outcome.",
		}, []string{"pipeline", "outcome"}),
		RelayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_latency_ms",
			Help:      "Time from dequeue to reply sent, in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
		}, []string{"pipeline"}),
		GatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Failed external calls by pipeline and reason.",
		}, []string{"pipeline", "reason"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Replies that could not be delivered, by channel.",
		}, []string{"channel"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_messages",
			Help:      "Messages currently being handled.",
		}),
		startTime: time.Now(),
	}
}

// TrackUsers exposes the number of conversations held in memory.
func (c *Collector) TrackUsers(count func() int) {
	if c == nil {
		return
	}
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_users",
		Help:      "Conversation histories held in memory.",
	}, func() float64 { return float64(count()) })
}

// Attach subscribes the collector to relay events.
func (c *Collector) Attach(eb *bus.EventBus) {
	if c == nil || eb == nil {
		return
	}
	eb.OnRelayCompleted(func(rec domain.RelayRecord) {
		c.Relays.WithLabelValues(string(rec.Pipeline), string(rec.Outcome)).Inc()
		c.RelayLatency.WithLabelValues(string(rec.Pipeline)).Observe(float64(rec.LatencyMs))
		if !rec.Delivered {
			c.SendFailures.WithLabelValues(rec.Channel).Inc()
		}
	})
	eb.On(bus.EventMessageReceived, func(e bus.Event) {
		c.MessagesReceived.WithLabelValues(e.Source).Inc()
	})
}

func (c *Collector) GatewayError(pipeline domain.Pipeline, reason string) {
	if c == nil {
		return
	}
	c.GatewayErrors.WithLabelValues(string(pipeline), reason).Inc()
}

func (c *Collector) Begin() {
	if c == nil {
		return
	}
	c.InFlight.Inc()
}

func (c *Collector) End() {
	if c == nil {
		return
	}
	c.InFlight.Dec()
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	if c == nil {
		return 0
	}
	return time.Since(c.startTime)
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
