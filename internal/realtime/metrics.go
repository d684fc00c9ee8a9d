package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	publishSuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toonbridge_realtime_publish_success_total",
			Help: "Capability events published to the broker",
		},
		[]string{"plugin"},
	)
	publishFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toonbridge_realtime_publish_failure_total",
			Help: "Capability events that failed to publish",
		},
		[]string{"plugin"},
	)
)

// MetricsCollectors exposes shared realtime collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{publishSuccess, publishFailure}
}
