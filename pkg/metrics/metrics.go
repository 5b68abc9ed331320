package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "staticserve"

// Metrics holds the HTTP collectors of one server instance. Each instance
// has its own registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by matched rule, status code and method",
			},
			[]string{"rule", "code", "method"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Time spent serving HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"rule"},
		),
		ResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "Size of HTTP responses",
				Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"rule"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
	}

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ResponseSize,
		m.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Instrument wraps the handler of a route rule. It matches router.InstrumentFunc.
func (m *Metrics) Instrument(rule string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"rule": rule}
	h := promhttp.InstrumentHandlerResponseSize(m.ResponseSize.MustCurryWith(labels), next)
	h = promhttp.InstrumentHandlerDuration(m.RequestDuration.MustCurryWith(labels), h)
	h = promhttp.InstrumentHandlerCounter(m.RequestsTotal.MustCurryWith(labels), h)
	return promhttp.InstrumentHandlerInFlight(m.InFlight, h)
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
