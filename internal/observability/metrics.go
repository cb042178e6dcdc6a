package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	httpErrorsTotal        *prometheus.CounterVec
	gradingDurationSeconds *prometheus.HistogramVec
	gradingOutcomesTotal   *prometheus.CounterVec
	gradingQueueDepth      prometheus.Gauge
	gradingQueueRejected   prometheus.Counter
	plagiarismRejections   prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the grading pipeline.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		gradingDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grading_duration_seconds",
			Help:    "End-to-end duration of automated submission grading.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"})

		gradingOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_outcomes_total",
			Help: "Automated grading runs by resulting submission status.",
		}, []string{"status"})

		gradingQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grading_queue_depth",
			Help: "Number of grading jobs waiting for a worker.",
		})

		gradingQueueRejected = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_queue_rejected_total",
			Help: "Grading jobs rejected because the queue was full.",
		})

		plagiarismRejections = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plagiarism_rejections_total",
			Help: "Submissions rejected by the similarity screener.",
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			gradingDurationSeconds, gradingOutcomesTotal,
			gradingQueueDepth, gradingQueueRejected, plagiarismRejections,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// GradingDuration exposes the grading duration histogram.
func GradingDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradingDurationSeconds
}

// GradingOutcomes exposes the counter of grading results by status.
func GradingOutcomes() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingOutcomesTotal
}

// GradingQueueDepth exposes the queue depth gauge.
func GradingQueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return gradingQueueDepth
}

// GradingQueueRejected exposes the counter of jobs dropped on a full queue.
func GradingQueueRejected() prometheus.Counter {
	RegisterMetrics()
	return gradingQueueRejected
}

// PlagiarismRejections exposes the counter of screened-out submissions.
func PlagiarismRejections() prometheus.Counter {
	RegisterMetrics()
	return plagiarismRejections
}
