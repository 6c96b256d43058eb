package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:      "refresh_duration_seconds",
		Namespace: Namespace,
		Subsystem: CatalogSubsystem,
		Help:      "Duration of reading the partition tables of all devices",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
	})
)

var (
	DeviceReadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "device_read_errors_total",
		Namespace: Namespace,
		Subsystem: CatalogSubsystem,
		Help:      "Devices whose partition table could not be read",
	})
)

var (
	UsedSpaceScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "used_space_scans_total",
		Namespace: Namespace,
		Subsystem: CatalogSubsystem,
		Help:      "Used space measurements of partitions",
	}, []string{"result"})
)

func RefreshMetrics(observe ObserveFunc, readErrors int) {
	RefreshDuration.Observe(observe().Seconds())
	DeviceReadErrors.Add(float64(readErrors))
}

func UsedSpaceScan(err error) {
	if err != nil {
		UsedSpaceScans.WithLabelValues("failure").Inc()
		return
	}
	UsedSpaceScans.WithLabelValues("success").Inc()
}
