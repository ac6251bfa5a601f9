package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Commit call metrics
	commitCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpay_commit_calls_total",
			Help: "Total number of commit calls to the payment gateway",
		},
		[]string{"outcome"},
	)

	commitCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webpay_commit_call_duration_seconds",
			Help:    "Duration of gateway commit calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Callback endpoint metrics
	callbackRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpay_callback_requests_total",
			Help: "Total number of return-callback requests handled",
		},
		[]string{"status"},
	)

	// Edge relay metrics
	relayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webpay_relay_requests_total",
			Help: "Total number of requests handled by the edge relay",
		},
		[]string{"route", "status"},
	)
)

// Commit outcomes as recorded in metrics
const (
	OutcomeAuthorized  = "authorized"
	OutcomeRejected    = "rejected"
	OutcomeUnreachable = "unreachable"
)

// RecordCommit records one gateway commit call
func RecordCommit(outcome string, duration time.Duration) {
	commitCallsTotal.WithLabelValues(outcome).Inc()
	commitCallDuration.Observe(duration.Seconds())
}

// RecordCallback records one handled callback request by HTTP status class
func RecordCallback(status string) {
	callbackRequestsTotal.WithLabelValues(status).Inc()
}

// RecordRelayRequest records one relay request by matched route and status.
// Unmatched paths are collapsed into a single route label to keep the
// cardinality bounded.
func RecordRelayRequest(route, status string) {
	relayRequestsTotal.WithLabelValues(route, status).Inc()
}
