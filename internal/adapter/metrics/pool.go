package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics holds Prometheus metrics for the broadcaster pool.
type PoolMetrics struct {
	Instances        prometheus.Gauge
	InstancesSpawned prometheus.Counter
	InstancesRetired prometheus.Counter
}

// NewPoolMetrics creates and registers pool metrics on the given registry.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	m := &PoolMetrics{
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "instances",
			Help:      "Number of running broadcaster instances.",
		}),
		InstancesSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "instances_spawned_total",
			Help:      "Broadcaster instances started by the pool.",
		}),
		InstancesRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "instances_retired_total",
			Help:      "Idle broadcaster instances retired by the pool.",
		}),
	}

	reg.MustRegister(m.Instances, m.InstancesSpawned, m.InstancesRetired)
	return m
}
