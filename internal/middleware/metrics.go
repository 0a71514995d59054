package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Answer pipeline metrics
	answerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legalqa_answer_requests_total",
		Help: "Total number of answer requests by outcome",
	}, []string{"outcome"})

	answerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legalqa_answer_duration_seconds",
		Help:    "Duration of answer resolution",
		Buckets: prometheus.DefBuckets,
	}, []string{"cached"})

	// Provider metrics
	providerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legalqa_provider_request_duration_seconds",
		Help:    "Duration of completion provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legalqa_provider_requests_total",
		Help: "Total number of completion provider requests",
	}, []string{"status"})

	// Cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "legalqa_cache_hits_total",
		Help: "Total number of answer cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "legalqa_cache_misses_total",
		Help: "Total number of answer cache misses",
	})

	// Admission metrics
	rateLimitDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legalqa_rate_limit_denied_total",
		Help: "Total number of rate-limited requests",
	}, []string{"tier"})

	quotaBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "legalqa_quota_blocked_total",
		Help: "Total number of requests blocked by the free-question quota",
	})

	// Recording metrics
	recordingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "legalqa_recording_failures_total",
		Help: "Total number of failed conversation recordings",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordAnswerRequest records an answer request outcome
func (m *Metrics) RecordAnswerRequest(outcome string) {
	answerRequests.WithLabelValues(outcome).Inc()
}

// RecordAnswerDuration records how long answer resolution took
func (m *Metrics) RecordAnswerDuration(cached bool, duration time.Duration) {
	answerDuration.WithLabelValues(fmt.Sprintf("%t", cached)).Observe(duration.Seconds())
}

// RecordProviderRequest records a completion provider request
func (m *Metrics) RecordProviderRequest(status string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
	providerRequestsTotal.WithLabelValues(status).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordRateLimitDenied records a rate limit denial
func (m *Metrics) RecordRateLimitDenied(tier string) {
	rateLimitDenied.WithLabelValues(tier).Inc()
}

// RecordQuotaBlocked records a request stopped by the free-question quota
func (m *Metrics) RecordQuotaBlocked() {
	quotaBlocked.Inc()
}

// RecordRecordingFailure records a failed conversation recording
func (m *Metrics) RecordRecordingFailure() {
	recordingFailures.Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
