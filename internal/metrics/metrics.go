// Package metrics exposes Prometheus collectors for the broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCount counts inbound orchestration requests by outcome.
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_requests_total",
			Help: "Total orchestration requests",
		},
		[]string{"outcome"},
	)

	// ProviderAttempts counts routing attempts per provider and result.
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_provider_attempts_total",
			Help: "Provider call attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	// ProviderLatency observes provider call latency in seconds.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "synapse_provider_latency_seconds",
			Help: "Provider call latency in seconds",
		},
		[]string{"provider"},
	)

	// BreakerTransitions counts circuit breaker state transitions.
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_breaker_transitions_total",
			Help: "Circuit breaker state transitions by provider and new state",
		},
		[]string{"provider", "state"},
	)

	// MemoryOperations counts memory tier operations.
	MemoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synapse_memory_operations_total",
			Help: "Memory operations by tier and operation",
		},
		[]string{"tier", "op"},
	)

	// DroppedDurableWrites counts hybrid-store async writes abandoned
	// after retries were exhausted.
	DroppedDurableWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synapse_dropped_durable_writes_total",
			Help: "Async durable writes dropped after retry exhaustion",
		},
	)
)
