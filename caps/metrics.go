package caps

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qemu_capabilities",
			Name:      "probes_total",
			Help:      "Number of capability probes run, partitioned by discovery path and outcome.",
		},
		[]string{"path", "outcome"},
	)

	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qemu_capabilities",
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock time spent building a CapabilityRecord, partitioned by discovery path.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qemu_capabilities",
			Name:      "cache_lookups_total",
			Help:      "Cache.Lookup calls, partitioned by result.",
		},
		[]string{"result"},
	)
)

// registerMetrics registers this package's collectors with reg exactly
// once per process. Safe to call from multiple Cache instances.
func registerMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		reg.MustRegister(probesTotal, probeDuration, cacheLookupsTotal)
	})
}

func observeProbe(path string, outcome string, seconds float64) {
	probesTotal.WithLabelValues(path, outcome).Inc()
	probeDuration.WithLabelValues(path).Observe(seconds)
}

func observeCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}
