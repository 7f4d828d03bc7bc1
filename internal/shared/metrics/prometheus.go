package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Claim metrics
	claimsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claims_created_total",
			Help: "Total number of claims created",
		},
		[]string{"source"},
	)

	claimStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_status_changed_total",
			Help: "Total number of claim status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	// Portal metrics
	portalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_requests_total",
			Help: "Total number of portal operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	portalCallsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_calls_in_flight",
			Help: "Number of portal operations currently in flight",
		},
	)

	// Engine metrics
	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_sweep_duration_seconds",
			Help:    "Duration of one claim processing sweep",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		},
	)

	sweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_sweep_errors_total",
			Help: "Total number of sweep-level failures",
		},
	)

	// Export metrics
	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_exports_total",
			Help: "Total number of CSV export runs",
		},
		[]string{"outcome"},
	)
)

// ClaimCreated records a new claim from the given ingestion source.
func ClaimCreated(source string) {
	claimsCreated.WithLabelValues(source).Inc()
}

// ClaimStatusChanged records a lifecycle transition.
func ClaimStatusChanged(from, to string) {
	claimStatusChanged.WithLabelValues(from, to).Inc()
}

// PortalRequest records one portal operation outcome.
func PortalRequest(operation, outcome string) {
	portalRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// PortalCallStarted marks a portal round-trip in flight; the returned
// function marks it done.
func PortalCallStarted() func() {
	portalCallsInFlight.Inc()
	return portalCallsInFlight.Dec
}

// SweepObserved records the duration of one sweep.
func SweepObserved(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

// SweepError records a loop-level sweep failure.
func SweepError() {
	sweepErrors.Inc()
}

// ExportRun records a CSV export outcome.
func ExportRun(outcome string) {
	exportsTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware instruments HTTP handlers with request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
