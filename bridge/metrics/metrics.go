// Package metrics exports bridge activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fmubridge/fmubridge/bridge/delivery"
)

const namespace = "fmubridge"

// Metrics holds the bridge collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	received   *prometheus.CounterVec
	superseded *prometheus.CounterVec
	discarded  *prometheus.CounterVec
	delivered  *prometheus.CounterVec
	depth      *prometheus.GaugeVec
	published  *prometheus.CounterVec

	steps        prometheus.Counter
	stepDuration prometheus.Histogram
	simTime      prometheus.Gauge
}

var _ delivery.Observer = (*Metrics)(nil)

// New registers the bridge collectors on a fresh registry.
func New() *Metrics {
	channel := []string{"channel"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "received_total",
			Help: "Inbound messages accepted by a delivery buffer.",
		}, channel),
		superseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "superseded_total",
			Help: "Buffered messages replaced by a newer message with the same key.",
		}, channel),
		discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "discarded_total",
			Help: "Inbound messages dropped as out of order or after termination.",
		}, channel),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "delivered_total",
			Help: "Messages released to the FMU.",
		}, channel),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "buckets",
			Help: "Timestamp buckets currently held by a delivery buffer.",
		}, channel),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "published_total",
			Help: "Outbound messages sent to the bus.",
		}, channel),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "steps_total",
			Help: "Completed simulation steps.",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "step_duration_seconds",
			Help:    "Wall-clock time spent in one simulation step.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		simTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "simulation_time_seconds",
			Help: "Simulation time reached by the last completed step.",
		}),
	}
	m.registry.MustRegister(
		m.received, m.superseded, m.discarded, m.delivered, m.depth, m.published,
		m.steps, m.stepDuration, m.simTime,
	)
	return m
}

// Registry returns the registry holding the bridge collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Received(channel string)   { m.received.WithLabelValues(channel).Inc() }
func (m *Metrics) Superseded(channel string) { m.superseded.WithLabelValues(channel).Inc() }
func (m *Metrics) Discarded(channel string)  { m.discarded.WithLabelValues(channel).Inc() }

func (m *Metrics) Delivered(channel string, n int) {
	m.delivered.WithLabelValues(channel).Add(float64(n))
}

func (m *Metrics) Depth(channel string, buckets int) {
	m.depth.WithLabelValues(channel).Set(float64(buckets))
}

// Published counts n outbound messages on channel.
func (m *Metrics) Published(channel string, n int) {
	m.published.WithLabelValues(channel).Add(float64(n))
}

// StepCompleted records one step that reached simulation time t.
func (m *Metrics) StepCompleted(t float64, elapsed time.Duration) {
	m.steps.Inc()
	m.stepDuration.Observe(elapsed.Seconds())
	m.simTime.Set(t)
}
