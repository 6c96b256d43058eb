package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "total",
		Namespace: Namespace,
		Subsystem: CommitSubsystem,
		Help:      "Commits of staged plans by final state",
	}, []string{"state"})
)

var (
	CommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "duration_seconds",
		Namespace: Namespace,
		Subsystem: CommitSubsystem,
		Help:      "Duration of commits by final state",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"state"})
)

var (
	FormattedPartitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "formatted_partitions_total",
		Namespace: Namespace,
		Subsystem: CommitSubsystem,
		Help:      "Filesystems created during commits by type",
	}, []string{"fstype"})
)

func CommitMetrics(observe ObserveFunc, state string) {
	Commits.WithLabelValues(state).Inc()
	CommitDuration.WithLabelValues(state).Observe(observe().Seconds())
}

func FormattedPartition(fsType string) {
	FormattedPartitions.WithLabelValues(fsType).Inc()
}
