// Package metrics exposes Prometheus instrumentation for ledger
// operations. Counters are registered via promauto and served by the
// /metrics endpoint in the api package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OperationsTotal counts ledger operations by operation and outcome.
// Outcome is "ok" or the stable error kind.
var OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "credit_ledger_operations_total",
	Help: "Ledger operations by operation and outcome.",
}, []string{"operation", "outcome"})

// ConflictRetries counts optimistic-lock conflicts that triggered a retry.
var ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "credit_ledger_conflict_retries_total",
	Help: "Optimistic concurrency conflicts retried.",
})

// ReplayedRequests counts duplicate request IDs served from stored results.
var ReplayedRequests = promauto.NewCounter(prometheus.CounterOpts{
	Name: "credit_ledger_replayed_requests_total",
	Help: "Requests answered from the idempotency result store.",
})

// OperationDuration observes wall time per operation.
var OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "credit_ledger_operation_seconds",
	Help:    "Ledger operation duration in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"operation"})
