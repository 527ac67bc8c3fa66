// Package metrics exposes Prometheus collectors for connections, requests,
// sync runs, and health checks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one stationsync process.
type Metrics struct {
	registry *prometheus.Registry

	openConnections prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestSeconds  *prometheus.HistogramVec
	decodeErrors    prometheus.Counter
	mediaBytes      prometheus.Counter
	syncsTotal      *prometheus.CounterVec
	syncSeconds     prometheus.Histogram
	healthChecks    *prometheus.CounterVec
	httpRequests    prometheus.Counter
	httpErrors      prometheus.Counter
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stationsync_open_connections",
			Help: "Number of open player sockets",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stationsync_player_requests_total",
			Help: "Player commands sent, by command and outcome",
		}, []string{"command", "outcome"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stationsync_player_request_duration_seconds",
			Help:    "Time from send to settlement of player commands",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 3, 10, 60, 240},
		}, []string{"command"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stationsync_decode_errors_total",
			Help: "Inbound frames that could not be decoded",
		}),
		mediaBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stationsync_media_bytes_sent_total",
			Help: "Media bytes uploaded to players",
		}),
		syncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stationsync_station_syncs_total",
			Help: "Station synchronizations, by result",
		}, []string{"result"}),
		syncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stationsync_station_sync_duration_seconds",
			Help:    "Duration of station synchronizations",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stationsync_health_checks_total",
			Help: "Connection health checks, by resulting status",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stationsync_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		httpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stationsync_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	registry.MustRegister(
		m.openConnections,
		m.requestsTotal,
		m.requestSeconds,
		m.decodeErrors,
		m.mediaBytes,
		m.syncsTotal,
		m.syncSeconds,
		m.healthChecks,
		m.httpRequests,
		m.httpErrors,
	)
	return m
}

// SetOpenConnections sets the open sockets gauge.
func (m *Metrics) SetOpenConnections(n int) {
	m.openConnections.Set(float64(n))
}

// ObserveRequest records one settled player request.
func (m *Metrics) ObserveRequest(command, outcome string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(command, outcome).Inc()
	m.requestSeconds.WithLabelValues(command).Observe(elapsed.Seconds())
}

// IncDecodeErrors increments the decode error counter.
func (m *Metrics) IncDecodeErrors() {
	m.decodeErrors.Inc()
}

// AddMediaBytes adds uploaded media bytes.
func (m *Metrics) AddMediaBytes(n int) {
	m.mediaBytes.Add(float64(n))
}

// ObserveSync records a finished station synchronization.
func (m *Metrics) ObserveSync(success bool, elapsed time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.syncsTotal.WithLabelValues(result).Inc()
	m.syncSeconds.Observe(elapsed.Seconds())
}

// IncHealthCheck counts a health check by its status name.
func (m *Metrics) IncHealthCheck(status string) {
	m.healthChecks.WithLabelValues(status).Inc()
}

// IncHTTPRequests increments the HTTP request counter.
func (m *Metrics) IncHTTPRequests() {
	m.httpRequests.Inc()
}

// IncHTTPErrors increments the HTTP error counter.
func (m *Metrics) IncHTTPErrors() {
	m.httpErrors.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
