package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for match processing.
type Metrics struct {
	Requests   *prometheus.CounterVec
	Candidates prometheus.Histogram
	Duration   prometheus.Histogram
}

// New creates and registers all match metrics.
func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ormatch_requests_total",
			Help: "Match requests by operation and outcome state.",
		}, []string{"operation", "state"}),
		Candidates: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ormatch_candidates_found",
			Help:    "Candidates returned per search.",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ormatch_request_duration_seconds",
			Help:    "End-to-end match request duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordRequest counts one finished request. Nil-safe so tests can run
// without a registry.
func (m *Metrics) RecordRequest(operation, state string, candidates int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, state).Inc()
	m.Candidates.Observe(float64(candidates))
	m.Duration.Observe(elapsed.Seconds())
}
