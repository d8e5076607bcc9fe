// Package metrics holds the Prometheus collectors shared by the queue,
// the network observer and the realtime tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueSize tracks the number of pending operations
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_queue_size",
			Help: "Number of operations waiting in the queue",
		},
	)

	// OperationsEnqueued tracks accepted enqueues per operation type
	OperationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_operations_enqueued_total",
			Help: "Total number of operations accepted by the queue",
		},
		[]string{"operation"},
	)

	// OperationsRejected tracks enqueues refused by capacity or validation
	OperationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_operations_rejected_total",
			Help: "Total number of enqueue attempts rejected",
		},
		[]string{"reason"},
	)

	// OperationsProcessed tracks successful processor invocations
	OperationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_operations_processed_total",
			Help: "Total number of operations processed successfully",
		},
		[]string{"operation"},
	)

	// OperationFailures tracks failed processor invocations
	OperationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_operation_failures_total",
			Help: "Total number of failed processing attempts",
		},
		[]string{"operation"},
	)

	// OperationsDropped tracks entries dropped after exhausting retries
	OperationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_operations_dropped_total",
			Help: "Total number of operations dropped after max retries",
		},
		[]string{"operation"},
	)

	// ProcessLatency tracks processor invocation latency
	ProcessLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_process_latency_seconds",
			Help:    "Processor invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CircuitBreakerOpen is 1 while the queue circuit breaker is open
	CircuitBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_circuit_breaker_open",
			Help: "1 while the queue circuit breaker is open",
		},
	)

	// PersistErrors tracks failed writes to the persistent store
	PersistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_persist_errors_total",
			Help: "Total number of persistent store failures",
		},
		[]string{"op"},
	)

	// NetworkQuality tracks the current quality tier (0 offline .. 4 excellent)
	NetworkQuality = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_network_quality",
			Help: "Current network quality tier (0 offline .. 4 excellent)",
		},
	)

	// NetworkTransitions tracks connectivity transitions
	NetworkTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_network_transitions_total",
			Help: "Total number of connectivity transitions",
		},
		[]string{"direction"},
	)

	// RealtimeConnected is 1 while the realtime channel is connected
	RealtimeConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_realtime_connected",
			Help: "1 while the realtime channel is connected",
		},
	)

	// RealtimeReconnectAttempts tracks reconnect attempts of the realtime channel
	RealtimeReconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_realtime_reconnect_attempts_total",
			Help: "Total number of realtime reconnect attempts",
		},
	)

	// DeferredBufferSize tracks deferred realtime operations
	DeferredBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_realtime_deferred_size",
			Help: "Number of deferred realtime operations",
		},
	)

	// DeferredEvictions tracks deferred operations evicted at capacity
	DeferredEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_realtime_deferred_evictions_total",
			Help: "Total number of deferred operations evicted at capacity",
		},
	)

	// DispatchRequests tracks outbound dispatch calls by status class
	DispatchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dispatch_requests_total",
			Help: "Total number of dispatch requests",
		},
		[]string{"operation", "outcome"},
	)

	// StorePoolUsage tracks the SQL connection pool usage percentage
	StorePoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_store_pool_usage_percent",
			Help: "Percentage of SQL connection pool in use",
		},
	)
)
