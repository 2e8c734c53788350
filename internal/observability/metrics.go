// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Accrual metrics
	EventsProcessed *prometheus.CounterVec
	ReplayErrors    *prometheus.CounterVec
	AccountsTracked *prometheus.GaugeVec
	AllocatedReward *prometheus.GaugeVec

	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	// Source metrics
	SubgraphRequestLatency *prometheus.HistogramVec
	SubgraphRequestErrors  *prometheus.CounterVec
	RPCCallLatency         *prometheus.HistogramVec
	CacheLookups           *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reward_distributor"
	}

	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "events_processed_total",
			Help:      "Total number of reward events replayed by program and type",
		}, []string{"program", "event_type"}),
		ReplayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "replay_errors_total",
			Help:      "Total number of aborted replays by program and error kind",
		}, []string{"program", "kind"}),
		AccountsTracked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "accounts",
			Help:      "Number of accounts in the last replay by program",
		}, []string{"program"}),
		AllocatedReward: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "accrual",
			Name:      "allocated_reward",
			Help:      "Total reward allocated by the last replay by program and token",
		}, []string{"program", "token"}),

		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "runs_total",
			Help:      "Total number of campaign runs by status",
		}, []string{"program", "status"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      "duration_seconds",
			Help:      "Campaign run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"program"}),

		SubgraphRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "request_latency_seconds",
			Help:      "Subgraph query latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		SubgraphRequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subgraph",
			Name:      "request_errors_total",
			Help:      "Total number of failed subgraph requests",
		}, []string{"query"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "cache_lookups_total",
			Help:      "Block timestamp cache lookups by result",
		}, []string{"cache", "result"}),

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

		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful campaign run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventProcessed increments the replayed events counter.
func RecordEventProcessed(program, eventType string) {
	DefaultMetrics.EventsProcessed.WithLabelValues(program, eventType).Inc()
}

// RecordReplayError records an aborted replay.
func RecordReplayError(program, kind string) {
	DefaultMetrics.ReplayErrors.WithLabelValues(program, kind).Inc()
}

// RecordReplayResult records the account count and allocated total of a replay.
func RecordReplayResult(program, token string, accounts int, allocated float64) {
	DefaultMetrics.AccountsTracked.WithLabelValues(program).Set(float64(accounts))
	DefaultMetrics.AllocatedReward.WithLabelValues(program, token).Set(allocated)
}

// RecordRun records a campaign run.
func RecordRun(program, status string, durationSeconds float64) {
	DefaultMetrics.RunsTotal.WithLabelValues(program, status).Inc()
	DefaultMetrics.RunDuration.WithLabelValues(program).Observe(durationSeconds)
}

// RecordSubgraphRequest records subgraph query metrics.
func RecordSubgraphRequest(query string, seconds float64, err error) {
	DefaultMetrics.SubgraphRequestLatency.WithLabelValues(query).Observe(seconds)
	if err != nil {
		DefaultMetrics.SubgraphRequestErrors.WithLabelValues(query).Inc()
	}
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkRunSucceeded sets the last successful run gauge.
func MarkRunSucceeded(unix int64) {
	DefaultMetrics.LastSuccessfulRun.Set(float64(unix))
}
