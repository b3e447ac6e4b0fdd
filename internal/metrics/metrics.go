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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "porter_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	pagesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_pages_served_total",
			Help: "Paginated listing pages served by entity",
		},
		[]string{"entity"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_notifications_dispatched_total",
			Help: "Notifications created by template dispatch",
		},
		[]string{"template_id"},
	)

	eventsProjected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "porter_events_projected_total",
			Help: "Lifecycle events applied to the party projection",
		},
	)

	batchesRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "porter_event_batches_retried_total",
			Help: "Event batches rolled back and scheduled for redelivery",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"party_id"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "porter_idempotency_hits_total",
			Help: "Dispatch requests served from idempotency cache",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPageServed records one served listing page.
func RecordPageServed(entity string) {
	pagesServed.WithLabelValues(entity).Inc()
}

// RecordNotificationsDispatched records notifications created for a template.
func RecordNotificationsDispatched(templateID string, count int) {
	notificationsDispatched.WithLabelValues(templateID).Add(float64(count))
}

// RecordBatchCommitted records a committed event batch.
func RecordBatchCommitted(events int) {
	eventsProjected.Add(float64(events))
}

// RecordBatchRetried records a batch rollback and redelivery.
func RecordBatchRetried() {
	batchesRetried.Inc()
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection(partyID string) {
	rateLimitRejections.WithLabelValues(partyID).Inc()
}

// RecordIdempotencyHit records a dispatch served from the idempotency cache.
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
