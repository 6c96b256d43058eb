package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StagedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "operations_total",
		Namespace: Namespace,
		Subsystem: StagingSubsystem,
		Help:      "Staged operations by type",
	}, []string{"type"})
)

var (
	RejectedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rejected_operations_total",
		Namespace: Namespace,
		Subsystem: StagingSubsystem,
		Help:      "Staging operations rejected by validation, by error kind",
	}, []string{"type", "kind"})
)

// StagingMetrics counts a staging operation and, when it failed, the kind of
// the rejection.
func StagingMetrics(opType string, err error) {
	if err != nil {
		RejectedOperations.WithLabelValues(opType, ErrorKind(err)).Inc()
		return
	}
	StagedOperations.WithLabelValues(opType).Inc()
}
