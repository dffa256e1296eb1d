// Package metrics provides Prometheus metrics for the tile server.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	requestsInFlight     prometheus.Gauge
	responseSize         *prometheus.HistogramVec
	tileLookupsTotal     *prometheus.CounterVec
	tileBytesTotal       prometheus.Counter
	archiveQueryDuration *prometheus.HistogramVec
	archiveQueryErrors   *prometheus.CounterVec
	healthStatus         prometheus.Gauge
}

var globalMetrics *Metrics

// NewMetrics creates and registers Prometheus metrics. Metrics are
// registered once per process; later calls return the same instance.
func NewMetrics() *Metrics {
	if globalMetrics != nil {
		return globalMetrics
	}

	globalMetrics = &Metrics{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servembtiles_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servembtiles_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"method", "route", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "servembtiles_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		responseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servembtiles_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 25000, 50000, 100000, 500000},
			},
			[]string{"method", "route"},
		),
		tileLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servembtiles_tile_lookups_total",
				Help: "Tile and metadata lookups by outcome",
			},
			[]string{"outcome"},
		),
		tileBytesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "servembtiles_tile_bytes_total",
				Help: "Total bytes of tile data served",
			},
		),
		archiveQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "servembtiles_archive_query_duration_seconds",
				Help:    "MBTiles archive query duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"query"},
		),
		archiveQueryErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "servembtiles_archive_query_errors_total",
				Help: "Total number of failed MBTiles archive queries",
			},
			[]string{"query"},
		),
		healthStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "servembtiles_health_status",
				Help: "Health status of the tile server (1 = healthy, 0 = unhealthy)",
			},
		),
	}

	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordResponseSize records the response size.
func (m *Metrics) RecordResponseSize(method, route string, size int) {
	m.responseSize.WithLabelValues(method, route).Observe(float64(size))
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordTileLookup counts one lookup outcome.
func (m *Metrics) RecordTileLookup(outcome string) {
	m.tileLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordTileBytes adds n served tile bytes.
func (m *Metrics) RecordTileBytes(n int) {
	m.tileBytesTotal.Add(float64(n))
}

// ObserveArchiveQuery records the duration and failure of an archive query.
func (m *Metrics) ObserveArchiveQuery(query string, duration time.Duration, err error) {
	m.archiveQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
	if err != nil {
		m.archiveQueryErrors.WithLabelValues(query).Inc()
	}
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer is the admin HTTP server: Prometheus metrics plus any
// operational endpoints mounted with Handle.
type MetricsServer struct {
	mux    *http.ServeMux
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		mux: mux,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handle mounts an additional handler on the admin server.
func (ms *MetricsServer) Handle(pattern string, handler http.Handler) {
	ms.mux.Handle(pattern, handler)
}

// Handler returns the admin server's handler.
func (ms *MetricsServer) Handler() http.Handler {
	return ms.mux
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// MetricsMiddleware creates router middleware that records HTTP metrics,
// labelled by the name of the matched gorilla/mux route.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.IncRequestsInFlight()
			defer m.DecRequestsInFlight()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeName(r)
			m.RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
			m.RecordResponseSize(r.Method, route, rw.size)
		})
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
	}
	return "other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture metrics.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size.
func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}
