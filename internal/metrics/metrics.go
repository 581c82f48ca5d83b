// Package metrics defines the Prometheus metrics exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebSocket connection metrics
var (
	// ConnectionsCurrent tracks current active WebSocket connections
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
	)

	// ConnectionsTotal tracks total WebSocket connection attempts by result
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (accepted/rejected/error)",
		},
		[]string{"result"},
	)

	// ConnectionsRejected tracks rejected connection attempts by reason
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (rate_limit/ip_limit/global_limit)",
		},
		[]string{"reason"},
	)

	// ConnectionCapacity tracks connection capacity utilization as percentage
	ConnectionCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connection_capacity_percent",
			Help: "Current WebSocket connection capacity utilization (0-100%)",
		},
	)

	// ConnectionDuration tracks WebSocket connection duration
	ConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	// UniqueIPs tracks number of unique IP addresses with active connections
	UniqueIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_unique_ips",
			Help: "Number of unique IP addresses with active WebSocket connections",
		},
	)
)

// Hub metrics
var (
	// HubConnectionsByState tracks registry size by connection state
	HubConnectionsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_connections_by_state",
			Help: "Registered connections by state (connecting/authenticated/active/closing/error)",
		},
		[]string{"state"},
	)

	// HubCommandChannelDepth tracks current command channel depth
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current hub command channel depth",
		},
	)

	// AuthFailuresTotal tracks authentication failures by reason
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_auth_failures_total",
			Help: "Authentication failures by reason (bad_token/timeout/ticket_invalid)",
		},
		[]string{"reason"},
	)

	// FramesInTotal tracks inbound frames by type
	FramesInTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_frames_in_total",
			Help: "Inbound WebSocket frames by type",
		},
		[]string{"type"},
	)

	// FramesOutTotal tracks outbound frames by type
	FramesOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_frames_out_total",
			Help: "Outbound WebSocket frames by type",
		},
		[]string{"type"},
	)

	// ProtocolErrorsTotal tracks malformed or unknown inbound frames
	ProtocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_protocol_errors_total",
			Help: "Total malformed or unknown inbound frames",
		},
	)

	// BroadcastsTotal tracks broadcasts by selection mode
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Broadcasts by selection mode (all/users/channel/owner_client)",
		},
		[]string{"mode"},
	)

	// DeliveryFailuresTotal tracks per-connection delivery failures
	DeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_delivery_failures_total",
			Help: "Total per-connection write failures during delivery",
		},
	)

	// DroppedFramesTotal tracks frames dropped from lagging outbound queues
	DroppedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_dropped_frames_total",
			Help: "Frames dropped from lagging per-connection outbound queues (drop-oldest)",
		},
	)

	// IdleDisconnectsTotal tracks disconnects due to idle timeout
	IdleDisconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_idle_disconnects_total",
			Help: "Total connections closed by the liveness monitor due to idle timeout",
		},
	)

	// SweeperEvictionsTotal tracks connections reclaimed by the cleanup sweeper
	SweeperEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_sweeper_evictions_total",
			Help: "Total dead connections reclaimed by the cleanup sweeper",
		},
	)

	// HubStopTimeoutsTotal tracks hub stops that exceeded timeout
	HubStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_stop_timeouts_total",
			Help: "Hub stops that exceeded the graceful shutdown timeout",
		},
	)

	// HubPanicsTotal tracks hub panic recoveries
	HubPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_panics_total",
			Help: "Total hub panic recoveries",
		},
	)
)

// Job progress publishing metrics
var (
	// ProgressPublishedTotal tracks published job progress events by service and status
	ProgressPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_progress_published_total",
			Help: "Job progress events published by service and status",
		},
		[]string{"service", "status"},
	)

	// ProgressDeliveredTotal tracks job progress frames delivered to connections
	ProgressDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "job_progress_delivered_total",
			Help: "Job progress frames enqueued for delivery to connections",
		},
	)

	// RelayPublishedTotal tracks events published to the cross-instance relay
	RelayPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_published_total",
			Help: "Events published to the cross-instance relay by result",
		},
		[]string{"result"},
	)

	// RelayReceivedTotal tracks events received from the cross-instance relay
	RelayReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_received_total",
			Help: "Events received from the cross-instance relay",
		},
	)

	// RelaySubscriptionActive tracks whether the relay subscription is active
	RelaySubscriptionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscription_active",
			Help: "1 if the relay pub/sub subscription is active, 0 if disconnected",
		},
	)
)

// Redis operation metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Database metrics
var (
	// DBQueryDuration tracks database query duration by query name
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBErrorsTotal tracks database errors by query name
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by query",
		},
		[]string{"query"},
	)
)

// Build information
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
