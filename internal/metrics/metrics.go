// Package metrics holds the Prometheus collectors exported by boostd.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "boostd"

// Metrics collects Prometheus counters, gauges and histograms for boostd.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        *prometheus.CounterVec
	engineEventsTotal    *prometheus.CounterVec
	nodeWritesTotal      *prometheus.CounterVec
	reportsTotal         *prometheus.CounterVec
	activeRequests       *prometheus.GaugeVec
	mailboxDepth         *prometheus.GaugeVec
	batchDurationSeconds prometheus.Histogram
}

// New constructs a metrics registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Total client requests by kind and result.",
		},
		[]string{"kind", "result"},
	)
	engineEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total events processed by partition workers.",
		},
		[]string{"type"},
	)
	nodeWritesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "node_writes_total",
			Help:      "Total hardware node writes by result.",
		},
		[]string{"result"},
	)
	reportsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "reports_total",
			Help:      "Total external report batches by result.",
		},
		[]string{"result"},
	)
	activeRequests := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_requests",
			Help:      "Active requests held per partition and category.",
		},
		[]string{"partition", "category"},
	)
	mailboxDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "mailbox_depth",
			Help:      "Event batches waiting in each partition mailbox.",
		},
		[]string{"partition"},
	)
	batchDurationSeconds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one event batch, node writes included.",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1},
		},
	)

	registry.MustRegister(
		requestsTotal,
		engineEventsTotal,
		nodeWritesTotal,
		reportsTotal,
		activeRequests,
		mailboxDepth,
		batchDurationSeconds,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		engineEventsTotal:    engineEventsTotal,
		nodeWritesTotal:      nodeWritesTotal,
		reportsTotal:         reportsTotal,
		activeRequests:       activeRequests,
		mailboxDepth:         mailboxDepth,
		batchDurationSeconds: batchDurationSeconds,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncRequest(kind, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.requestsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncEngineEvent(eventType string) {
	if m == nil {
		return
	}
	m.engineEventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncNodeWrite(ok bool) {
	if m == nil {
		return
	}
	m.nodeWritesTotal.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) IncReport(ok bool) {
	if m == nil {
		return
	}
	m.reportsTotal.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SetActiveRequests(partition int, category string, n int) {
	if m == nil {
		return
	}
	m.activeRequests.WithLabelValues(strconv.Itoa(partition), category).Set(float64(n))
}

func (m *Metrics) SetMailboxDepth(partition int, depth int) {
	if m == nil {
		return
	}
	m.mailboxDepth.WithLabelValues(strconv.Itoa(partition)).Set(float64(depth))
}

func (m *Metrics) ObserveBatch(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	m.batchDurationSeconds.Observe(seconds)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
