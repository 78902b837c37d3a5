package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Draw engine metrics.
var (
	drawOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_operations_total",
			Help: "Completed draw engine operations.",
		},
		[]string{"operation"},
	)

	drawFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draw_failures_total",
			Help: "Failed draw engine operations by stable reason.",
		},
		[]string{"operation", "reason"},
	)

	drawAssignmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "draw_assignments_created_total",
		Help: "Assignments created across all events.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		drawOperationsTotal, drawFailuresTotal, drawAssignmentsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records readiness for scrapes alongside the /readyz probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// ObserveDrawOperation counts one successful engine operation and the
// assignments it produced.
func ObserveDrawOperation(operation string, assignments int) {
	drawOperationsTotal.WithLabelValues(operation).Inc()
	if assignments > 0 {
		drawAssignmentsTotal.Add(float64(assignments))
	}
}

// ObserveDrawFailure counts one failed engine operation by reason.
func ObserveDrawFailure(operation, reason string) {
	drawFailuresTotal.WithLabelValues(operation, reason).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses event ids out of metric label values to keep
// cardinality bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	// /v1/events/{id} and /v1/events/{id}/suffix
	if len(parts) >= 4 && parts[1] == "v1" && parts[2] == "events" && parts[3] != "" {
		parts[3] = ":id"
		if len(parts) <= 5 {
			return strings.Join(parts, "/")
		}
	}
	return path
}

// statusWriter captures the response code for labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streaming responses keep
// working behind the instrumentation.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
