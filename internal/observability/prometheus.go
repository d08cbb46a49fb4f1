package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports operation latencies as a histogram and counters
// as a counter vector.
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	counters  *prometheus.CounterVec
}

// NewPrometheusRecorder registers the graphsync collectors with reg under
// namespace (default "graphsync").
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if namespace == "" {
		namespace = "graphsync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of graph operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Snapshot cache and statement counters.",
		}, []string{"name"}),
	}
	for _, c := range []prometheus.Collector{rec.durations, rec.counters} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// Add implements MetricsRecorder.
func (r *PrometheusRecorder) Add(name string, delta int64) {
	if delta <= 0 {
		return
	}
	r.counters.WithLabelValues(name).Add(float64(delta))
}
