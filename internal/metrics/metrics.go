// Package metrics defines the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, which keeps handlers free of nil checks in tests.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests       *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	deltas         *prometheus.CounterVec
	aborts         *prometheus.CounterVec
	duration       *prometheus.HistogramVec
}

// New registers the gateway collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aihub_requests_total",
			Help: "Chat requests accepted, by route and selected provider.",
		}, []string{"route", "provider"}),
		upstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aihub_upstream_errors_total",
			Help: "Upstream calls that failed before or during streaming.",
		}, []string{"provider"}),
		deltas: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aihub_stream_deltas_total",
			Help: "Text deltas relayed to callers.",
		}, []string{"provider"}),
		aborts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aihub_stream_aborts_total",
			Help: "Outward streams terminated by dropping the connection.",
		}, []string{"provider"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aihub_stream_duration_seconds",
			Help:    "Wall time of outward streams, from handshake to end.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Request counts one accepted chat request on route, served by provider.
func (m *Metrics) Request(route, provider string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, provider).Inc()
}

// UpstreamError counts an upstream call that failed before or during streaming.
func (m *Metrics) UpstreamError(provider string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(provider).Inc()
}

// Deltas adds n relayed text deltas for provider.
func (m *Metrics) Deltas(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deltas.WithLabelValues(provider).Add(float64(n))
}

// Abort counts an outward stream ended by dropping the connection.
func (m *Metrics) Abort(provider string) {
	if m == nil {
		return
	}
	m.aborts.WithLabelValues(provider).Inc()
}

// StreamDone observes how long a stream that began at start ran.
func (m *Metrics) StreamDone(provider string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
