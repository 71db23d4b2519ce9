// Package metrics provides Prometheus metrics for the form service.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	responseSize     *prometheus.HistogramVec
	submissionsTotal *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepErrors       *prometheus.CounterVec
	definitionReads  *prometheus.CounterVec
	healthStatus     prometheus.Gauge
}

var (
	globalMetrics *Metrics
	once          sync.Once
)

// NewMetrics creates and registers Prometheus metrics. Registration happens
// once per process; later calls return the same instance.
func NewMetrics() *Metrics {
	once.Do(func() {
		globalMetrics = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sheetforms_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sheetforms_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				},
				[]string{"method", "path", "status"},
			),
			requestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "sheetforms_http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),
			responseSize: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sheetforms_http_response_size_bytes",
					Help:    "HTTP response size in bytes",
					Buckets: []float64{100, 500, 1000, 5000, 10000, 50000},
				},
				[]string{"method", "path"},
			),
			submissionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sheetforms_submissions_total",
					Help: "Submissions by final outcome",
				},
				[]string{"outcome"},
			),
			stepDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sheetforms_pipeline_step_duration_seconds",
					Help:    "Duration of each ingestion pipeline step, including collaborator calls",
					Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
				},
				[]string{"step"},
			),
			stepErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sheetforms_pipeline_step_errors_total",
					Help: "Ingestion pipeline step failures",
				},
				[]string{"step"},
			),
			definitionReads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sheetforms_definition_reads_total",
					Help: "Form definition reads by status",
				},
				[]string{"status"},
			),
			healthStatus: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "sheetforms_health_status",
					Help: "Health status of the service (1 = healthy, 0 = unhealthy)",
				},
			),
		}
	})
	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, path, status).Inc()
	m.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize records the response size.
func (m *Metrics) RecordResponseSize(method, path string, size int) {
	m.responseSize.WithLabelValues(method, path).Observe(float64(size))
}

// ObserveStep records one pipeline step.
func (m *Metrics) ObserveStep(step, outcome string, d time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if outcome != "ok" {
		m.stepErrors.WithLabelValues(step).Inc()
	}
}

// ObserveSubmission records the final outcome of a submission.
func (m *Metrics) ObserveSubmission(outcome string) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDefinitionRead records a definition read by HTTP status.
func (m *Metrics) RecordDefinitionRead(statusCode int) {
	m.definitionReads.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
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

// MetricsMiddleware creates middleware that records HTTP metrics. Paths are
// labelled with the matched route template to keep label cardinality bounded.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.requestsInFlight.Inc()
			defer m.requestsInFlight.Dec()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := routeTemplate(r)
			m.RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
			m.RecordResponseSize(r.Method, path, rw.size)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
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
