package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rollcall/internal/orm"
)

var _ orm.MetricsRecorder = (*PrometheusMetricsRecorder)(nil)

// PrometheusMetricsRecorder exports gateway operations as a counter and a
// latency histogram, both labelled by operation ("<table>.<op>").
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the gateway collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Gateway operations by outcome.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollcall",
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Gateway operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe records one operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, status(success)).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}
