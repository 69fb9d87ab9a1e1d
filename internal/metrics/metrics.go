package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus instruments.
type Metrics struct {
	AttemptsTotal prometheus.Counter
	BookedTotal   prometheus.Counter
	FailedTotal   *prometheus.CounterVec
	BarrierWait   prometheus.Histogram
}

func New(namespace string) *Metrics {
	return &Metrics{
		AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "The total number of booking attempts executed",
		}),
		BookedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booked_total",
			Help:      "The total number of successfully confirmed bookings",
		}),
		FailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_total",
			Help:      "The total number of failed attempts by reason",
		}, []string{"reason"}),
		BarrierWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "barrier_wait_seconds",
			Help:      "Time spent waiting at the pre-unlock timing barrier",
			Buckets:   []float64{1, 10, 30, 60, 120, 300, 600, 900},
		}),
	}
}
