package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tracker counters, gauges and histograms, partitioned by chain + network.

var (
	// Refresh (notification handler)
	TrackerRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "refreshes_total",
		Help:      "Total holdings refreshes handled",
	}, []string{"chain", "network"})

	TrackerRefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "refresh_errors_total",
		Help:      "Total holdings refreshes whose ledger read failed",
	}, []string{"chain", "network"})

	TrackerRefreshLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "refresh_duration_seconds",
		Help:      "Holdings refresh duration (ledger read + diff + dispatch)",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"chain", "network"})

	TrackerChangesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "token_changes_total",
		Help:      "Total per-mint balance changes dispatched",
	}, []string{"chain", "network"})

	TrackerCallbackPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "callback_panics_total",
		Help:      "Total change callbacks that panicked",
	}, []string{"chain", "network"})

	TrackerStaleWritesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "stale_writes_dropped_total",
		Help:      "Total cache writes dropped because the address was no longer tracked",
	}, []string{"chain", "network"})

	// Subscriptions
	TrackerActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "active_subscriptions",
		Help:      "Number of live watch handles",
	}, []string{"chain", "network"})

	TrackerCachedWallets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "holdings",
		Subsystem: "tracker",
		Name:      "cached_wallets",
		Help:      "Number of addresses with a cached holdings snapshot",
	}, []string{"chain", "network"})

	// Health & recovery
	TrackerHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "holdings",
		Subsystem: "health",
		Name:      "status",
		Help:      "Tracker health status (0=UNKNOWN, 1=HEALTHY, 2=DEGRADED, 3=UNHEALTHY)",
	}, []string{"chain", "network"})

	TrackerHealthErrors = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "holdings",
		Subsystem: "health",
		Name:      "detected_errors",
		Help:      "Number of problems detected by the last health check",
	}, []string{"chain", "network"})

	TrackerRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "health",
		Name:      "recoveries_total",
		Help:      "Total recovery cycles by outcome",
	}, []string{"chain", "network", "outcome"})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total ledger RPC calls by method and status",
	}, []string{"chain", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total times RPC calls waited for rate limiter",
	}, []string{"chain"})

	RPCRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Total RPC retries after transient errors",
	}, []string{"chain", "method"})

	RPCCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "holdings",
		Subsystem: "rpc",
		Name:      "circuit_state",
		Help:      "RPC circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"chain"})

	RPCHeadSlot = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "holdings",
		Subsystem: "rpc",
		Name:      "head_slot",
		Help:      "Confirmed slot reported by the node at the last liveness probe",
	}, []string{"chain"})

	RPCCircuitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "rpc",
		Name:      "circuit_rejections_total",
		Help:      "Total RPC calls rejected while the circuit breaker was open",
	}, []string{"chain"})

	WatchStreamsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "watch",
		Name:      "streams_dropped_total",
		Help:      "Total live watch streams that died without being cancelled",
	}, []string{"chain", "mode"})

	// Event stream sink
	EventStreamPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "event_stream",
		Name:      "published_total",
		Help:      "Total token change entries appended to the event stream",
	}, []string{"stream"})

	EventStreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "event_stream",
		Name:      "errors_total",
		Help:      "Total failed event stream appends",
	}, []string{"stream"})

	// Watch list
	WatchlistReloadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "watchlist",
		Name:      "reload_errors_total",
		Help:      "Total failed watch list reloads",
	}, []string{"chain", "network"})

	// Admin API
	AdminRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "admin",
		Name:      "rate_limited_total",
		Help:      "Total admin API requests rejected by the per-IP rate limiter",
	}, []string{"rule"})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "holdings",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})
)
