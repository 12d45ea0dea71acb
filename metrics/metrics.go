// Package metrics registers the engine's Prometheus instrumentation.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "arbflow_"

// Escrow movement directions.
const (
	DirectionReserved = "reserved_in"
	DirectionReleased = "released"
	DirectionRefunded = "refunded"
)

var (
	registerOnce sync.Once

	caseTransitions *prometheus.CounterVec
	escrowMoved     *prometheus.CounterVec
	opErrors        *prometheus.CounterVec
	opLatency       *prometheus.HistogramVec
)

// Init registers the engine metrics with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		caseTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "case_transitions_total",
				Help: "Total case status transitions by destination status",
			},
			[]string{"to"},
		)
		escrowMoved = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "escrow_moved_total",
				Help: "Total settlement units moved by direction",
			},
			[]string{"direction"},
		)
		opErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "operation_errors_total",
				Help: "Total rejected engine operations by name",
			},
			[]string{"op"},
		)
		opLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "operation_latency_seconds",
				Help:    "Engine operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		)

		prometheus.MustRegister(caseTransitions, escrowMoved, opErrors, opLatency)
	})
}

// CaseTransition counts one status transition.
func CaseTransition(to string) {
	if caseTransitions != nil {
		caseTransitions.WithLabelValues(to).Inc()
	}
}

// EscrowMoved counts settlement units entering or leaving the reserved pool.
func EscrowMoved(direction string, amount int64) {
	if escrowMoved != nil && amount > 0 {
		escrowMoved.WithLabelValues(direction).Add(float64(amount))
	}
}

// OperationError counts one rejected operation.
func OperationError(op string) {
	if opErrors != nil {
		opErrors.WithLabelValues(op).Inc()
	}
}

// ObserveOperation records the duration of one engine operation.
func ObserveOperation(op string, start time.Time) {
	if opLatency != nil {
		opLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
