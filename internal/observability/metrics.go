package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the relay. A nil *Metrics is
// valid and records nothing, so components can be built without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// ActiveConnections tracks live realtime connections.
	ActiveConnections prometheus.Gauge

	// Deliveries counts per-connection send outcomes by result (ok, failed).
	Deliveries *prometheus.CounterVec

	// Transitions counts session lifecycle transitions by kind.
	Transitions *prometheus.CounterVec

	// SweepDuration measures one full verification sweep.
	SweepDuration prometheus.Histogram

	// SweepItemFailures counts sessions a sweep could not process.
	SweepItemFailures prometheus.Counter

	// HTTPRequestCounter counts HTTP requests by route and status.
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP request latency by route.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Number of registered realtime connections",
		}),

		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_deliveries_total",
				Help: "Per-connection deliveries by result",
			},
			[]string{"result"},
		),

		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_session_transitions_total",
				Help: "Chat session lifecycle transitions by kind",
			},
			[]string{"transition"},
		),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_sweep_duration_seconds",
			Help:    "Duration of verification sweeps in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),

		SweepItemFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sweep_item_failures_total",
			Help: "Sessions a sweep failed to process",
		}),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened increments the connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordDelivery counts one per-connection send.
func (m *Metrics) RecordDelivery(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Deliveries.WithLabelValues(result).Inc()
}

// RecordTransition counts a session lifecycle transition.
func (m *Metrics) RecordTransition(transition string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(transition).Inc()
}

// RecordSweep records the duration and failed item count of one sweep.
func (m *Metrics) RecordSweep(d time.Duration, failures int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
	m.SweepItemFailures.Add(float64(failures))
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
