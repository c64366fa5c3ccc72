package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpLatencySeconds  *prometheus.HistogramVec
	httpErrorsTotal     *prometheus.CounterVec
	finalizedTotal      *prometheus.CounterVec
	xpCreditedTotal     *prometheus.CounterVec
	codeEvaluations     *prometheus.CounterVec
	codeQueueDropped    prometheus.Counter
	realtimeSessions    prometheus.Gauge
	realtimeDelivered   *prometheus.CounterVec
	realtimeDropped     *prometheus.CounterVec
	postCommitFailures  *prometheus.CounterVec
	notificationsStored *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gema_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		finalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_submissions_finalized_total",
			Help: "Submissions moved out of in_progress, by final status.",
		}, []string{"status"})

		xpCreditedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_xp_credited_total",
			Help: "Positive XP amounts written to the ledger, by source kind.",
		}, []string{"source_kind"})

		codeEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_code_evaluations_total",
			Help: "Completed code evaluations, by run status.",
		}, []string{"run_status"})

		codeQueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gema_code_evaluation_queue_dropped_total",
			Help: "Artifacts left pending because the evaluation queue was full.",
		})

		realtimeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gema_realtime_sessions_active",
			Help: "Live websocket and SSE sessions on this node.",
		})

		realtimeDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_realtime_events_delivered_total",
			Help: "Events handed to live sessions, by event type.",
		}, []string{"type"})

		realtimeDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_realtime_events_dropped_total",
			Help: "Events dropped because no session was registered or its buffer was full.",
		}, []string{"type", "reason"})

		postCommitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_post_commit_failures_total",
			Help: "Failures of asynchronous post-commit hooks, by hook.",
		}, []string{"hook"})

		notificationsStored = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gema_notifications_stored_total",
			Help: "Persisted notifications, by type.",
		}, []string{"type"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			finalizedTotal, xpCreditedTotal, codeEvaluations, codeQueueDropped,
			realtimeSessions, realtimeDelivered, realtimeDropped,
			postCommitFailures, notificationsStored,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the error response counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// SubmissionsFinalized counts finalized submissions.
func SubmissionsFinalized() *prometheus.CounterVec {
	RegisterMetrics()
	return finalizedTotal
}

// XPCredited sums credited XP.
func XPCredited() *prometheus.CounterVec {
	RegisterMetrics()
	return xpCreditedTotal
}

// CodeEvaluations counts completed evaluations.
func CodeEvaluations() *prometheus.CounterVec {
	RegisterMetrics()
	return codeEvaluations
}

// CodeQueueDropped counts enqueue attempts rejected by a full queue.
func CodeQueueDropped() prometheus.Counter {
	RegisterMetrics()
	return codeQueueDropped
}

// RealtimeSessions tracks live sessions.
func RealtimeSessions() prometheus.Gauge {
	RegisterMetrics()
	return realtimeSessions
}

// RealtimeDelivered counts delivered events.
func RealtimeDelivered() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDelivered
}

// RealtimeDropped counts dropped events.
func RealtimeDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeDropped
}

// PostCommitFailures counts failed post-commit hooks.
func PostCommitFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return postCommitFailures
}

// NotificationsStored counts persisted notifications.
func NotificationsStored() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsStored
}
