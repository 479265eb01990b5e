// Package observability provides Prometheus metrics and structured logging.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Change feed metrics
	ChangeEventsReceived *prometheus.CounterVec
	ChangeFeedReconnects prometheus.Counter
	ActiveChannels       prometheus.Gauge

	// Query cache metrics
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	CacheRefetches     *prometheus.CounterVec

	// Mutation metrics
	MutationsTotal *prometheus.CounterVec

	// Payment metrics
	PaymentTransitions *prometheus.CounterVec
	PaymentOutcomes    *prometheus.CounterVec
	PaymentDuration    prometheus.Histogram

	// Solana metrics
	RPCCallLatency *prometheus.HistogramVec

	// Serverless function metrics
	FunctionCallLatency *prometheus.HistogramVec
	VerificationsTotal  *prometheus.CounterVec

	// Expiry job metrics
	ExpiryRunsTotal      *prometheus.CounterVec
	FeaturesExpiredTotal prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tuzemoon"
	}

	return &Metrics{
		// Change feed metrics
		ChangeEventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "events_received_total",
			Help:      "Total number of change events received by collection and type",
		}, []string{"collection", "type"}),
		ChangeFeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "reconnects_total",
			Help:      "Total number of transport reconnects",
		}),
		ActiveChannels: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "active_channels",
			Help:      "Number of server-side channels currently joined",
		}),

		// Query cache metrics
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "hits_total",
			Help:      "Total number of cache reads served from fresh data",
		}, []string{"prefix"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "misses_total",
			Help:      "Total number of cache reads that ran the fetcher",
		}, []string{"prefix"}),
		CacheInvalidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "invalidations_total",
			Help:      "Total number of entries marked stale",
		}, []string{"prefix"}),
		CacheRefetches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "querycache",
			Name:      "refetches_total",
			Help:      "Total number of background re-fetches of observed entries",
		}, []string{"prefix", "status"}),

		// Mutation metrics
		MutationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "actions_total",
			Help:      "Total number of optimistic actions by kind and outcome",
		}, []string{"action", "outcome"}),

		// Payment metrics
		PaymentTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "transitions_total",
			Help:      "Total number of workflow state transitions by target state",
		}, []string{"state"}),
		PaymentOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "outcomes_total",
			Help:      "Total number of finished workflows by outcome",
		}, []string{"outcome"}),
		PaymentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "duration_seconds",
			Help:      "Payment workflow duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),

		// Solana metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Serverless function metrics
		FunctionCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "functions",
			Name:      "call_latency_seconds",
			Help:      "Serverless function call latency in seconds by function and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function", "status"}),
		VerificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "functions",
			Name:      "payment_verifications_total",
			Help:      "Total number of server-side payment verifications by verdict",
		}, []string{"verdict"}),

		// Expiry job metrics
		ExpiryRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "runs_total",
			Help:      "Total number of expiry job runs by status",
		}, []string{"status"}),
		FeaturesExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "expiry",
			Name:      "features_expired_total",
			Help:      "Total number of featured flags cleared",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordChangeEvent increments the change events counter.
func RecordChangeEvent(collection, eventType string) {
	DefaultMetrics.ChangeEventsReceived.WithLabelValues(collection, eventType).Inc()
}

// RecordReconnect increments the change feed reconnect counter.
func RecordReconnect() {
	DefaultMetrics.ChangeFeedReconnects.Inc()
}

// SetActiveChannels updates the joined channels gauge.
func SetActiveChannels(n int) {
	DefaultMetrics.ActiveChannels.Set(float64(n))
}

// RecordCacheRead records a cache hit or miss.
func RecordCacheRead(prefix string, hit bool) {
	if hit {
		DefaultMetrics.CacheHits.WithLabelValues(prefix).Inc()
		return
	}
	DefaultMetrics.CacheMisses.WithLabelValues(prefix).Inc()
}

// RecordInvalidation records an entry marked stale.
func RecordInvalidation(prefix string) {
	DefaultMetrics.CacheInvalidations.WithLabelValues(prefix).Inc()
}

// RecordRefetch records a background re-fetch.
func RecordRefetch(prefix string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.CacheRefetches.WithLabelValues(prefix, status).Inc()
}

// RecordMutation records an optimistic action outcome.
func RecordMutation(action, outcome string) {
	DefaultMetrics.MutationsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordPaymentTransition records a payment workflow transition.
func RecordPaymentTransition(state string) {
	DefaultMetrics.PaymentTransitions.WithLabelValues(state).Inc()
}

// RecordPaymentOutcome records a finished payment workflow.
func RecordPaymentOutcome(outcome string, durationSeconds float64) {
	DefaultMetrics.PaymentOutcomes.WithLabelValues(outcome).Inc()
	DefaultMetrics.PaymentDuration.Observe(durationSeconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordFunctionCall records a serverless function call.
func RecordFunctionCall(function string, status int, seconds float64) {
	DefaultMetrics.FunctionCallLatency.WithLabelValues(function, strconv.Itoa(status)).Observe(seconds)
}

// RecordVerification records a server-side payment verdict.
func RecordVerification(verdict string) {
	DefaultMetrics.VerificationsTotal.WithLabelValues(verdict).Inc()
}

// RecordExpiryRun records an expiry job run.
func RecordExpiryRun(cleared int64, err error) {
	if err != nil {
		DefaultMetrics.ExpiryRunsTotal.WithLabelValues("error").Inc()
		return
	}
	DefaultMetrics.ExpiryRunsTotal.WithLabelValues("success").Inc()
	DefaultMetrics.FeaturesExpiredTotal.Add(float64(cleared))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
