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
	// Feed metrics
	PriceUpdatesReceived prometheus.Counter
	MalformedMessages    prometheus.Counter
	Reconnects           prometheus.Counter
	ConnectionState      *prometheus.GaugeVec
	PollRequests         *prometheus.CounterVec
	HTTPCallLatency      *prometheus.HistogramVec

	// Monitor metrics
	TicksProcessed      prometheus.Counter
	TrackedAssets       prometheus.Gauge
	AlertsSent          *prometheus.CounterVec
	NotifierFailures    *prometheus.CounterVec
	IndicatorRefreshes  *prometheus.CounterVec
	TickHandlingLatency prometheus.Histogram

	// Backtest metrics
	BacktestsRun     *prometheus.CounterVec
	BacktestFinalPnl prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "quantbot"
	}

	return &Metrics{
		PriceUpdatesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "price_updates_received_total",
			Help:      "Total number of price updates decoded from the feed",
		}),
		MalformedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "malformed_messages_total",
			Help:      "Total number of feed messages dropped as malformed",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts",
		}),
		ConnectionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
		PollRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "poll_requests_total",
			Help:      "Total number of fallback poll requests by status",
		}, []string{"status"}),
		HTTPCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "call_latency_seconds",
			Help:      "Outbound HTTP call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"client"}),

		TicksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "ticks_processed_total",
			Help:      "Total number of price ticks evaluated",
		}),
		TrackedAssets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tracked_assets",
			Help:      "Number of assets currently tracked",
		}),
		AlertsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "alerts_sent_total",
			Help:      "Total number of alerts emitted by kind",
		}, []string{"kind"}),
		NotifierFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "notifier_failures_total",
			Help:      "Total number of failed notifier deliveries",
		}, []string{"notifier"}),
		IndicatorRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "indicator_refreshes_total",
			Help:      "Total number of indicator refreshes by status",
		}, []string{"status"}),
		TickHandlingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tick_handling_latency_seconds",
			Help:      "Time spent evaluating one tick on the event loop",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		BacktestsRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		BacktestFinalPnl: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "final_pnl",
			Help:      "Distribution of final PnL multiples",
			Buckets:   []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 2, 3, 5, 10},
		}),

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

// connectionStates are the label values of ConnectionState.
var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "disabled"}

// RecordPriceUpdate increments the price updates counter.
func RecordPriceUpdate() {
	DefaultMetrics.PriceUpdatesReceived.Inc()
}

// RecordMalformed increments the malformed messages counter.
func RecordMalformed() {
	DefaultMetrics.MalformedMessages.Inc()
}

// RecordReconnect increments the reconnect counter.
func RecordReconnect() {
	DefaultMetrics.Reconnects.Inc()
}

// SetConnectionState marks state as current.
func SetConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		DefaultMetrics.ConnectionState.WithLabelValues(s).Set(v)
	}
}

// RecordPoll records a fallback poll request.
func RecordPoll(status string) {
	DefaultMetrics.PollRequests.WithLabelValues(status).Inc()
}

// RecordHTTPLatency records outbound HTTP call latency.
func RecordHTTPLatency(client string, seconds float64) {
	DefaultMetrics.HTTPCallLatency.WithLabelValues(client).Observe(seconds)
}

// RecordTick records one evaluated tick.
func RecordTick(seconds float64) {
	DefaultMetrics.TicksProcessed.Inc()
	DefaultMetrics.TickHandlingLatency.Observe(seconds)
}

// SetTrackedAssets updates the tracked assets gauge.
func SetTrackedAssets(n int) {
	DefaultMetrics.TrackedAssets.Set(float64(n))
}

// RecordAlert increments the alerts counter for kind.
func RecordAlert(kind string) {
	DefaultMetrics.AlertsSent.WithLabelValues(kind).Inc()
}

// RecordNotifierFailure increments the notifier failure counter.
func RecordNotifierFailure(notifier string) {
	DefaultMetrics.NotifierFailures.WithLabelValues(notifier).Inc()
}

// RecordIndicatorRefresh records an indicator refresh outcome.
func RecordIndicatorRefresh(status string) {
	DefaultMetrics.IndicatorRefreshes.WithLabelValues(status).Inc()
}

// RecordBacktest records a backtest run.
func RecordBacktest(status string, finalPnl float64) {
	DefaultMetrics.BacktestsRun.WithLabelValues(status).Inc()
	if status == "ok" {
		DefaultMetrics.BacktestFinalPnl.Observe(finalPnl)
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
