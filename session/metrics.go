package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records session activity. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	scheduled  *prometheus.CounterVec
	violations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers the session collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_session_operations_total",
			Help: "Save and delete calls by outcome",
		}, []string{"op", "result"}),

		scheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_session_scheduled_total",
			Help: "Entities scheduled by computed change-sets",
		}, []string{"kind"}),

		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_session_unique_violations_total",
			Help: "Writes rejected by a unique index",
		}, []string{"table"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbor_session_apply_duration_seconds",
			Help:    "Duration of save and delete calls",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) schedule(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.scheduled.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) violation(table string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(table).Inc()
}
