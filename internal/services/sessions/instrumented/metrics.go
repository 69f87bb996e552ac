// Package instrumented decorates a session store with Prometheus metrics and
// OpenTelemetry spans.
package instrumented

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tomcat_sessions"

// Metrics holds the store collectors registered for one process.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	payload    *prometheus.HistogramVec
	swept      prometheus.Counter
}

// NewMetrics creates the store collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Session store operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Session store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		payload: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "payload_bytes",
			Help:      "Size of session payloads written and read.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 9),
		}, []string{"direction"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "expired_sessions_deleted_total",
			Help:      "Sessions removed by expiry sweeps.",
		}),
	}
	if reg != nil {
		for _, collector := range []prometheus.Collector{m.operations, m.duration, m.payload, m.swept} {
			if err := reg.Register(collector); err != nil {
				return nil, fmt.Errorf("register store metrics: %w", err)
			}
		}
	}
	return m, nil
}
