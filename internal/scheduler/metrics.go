package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Sweeps        prometheus.Counter
	AlertsFired   prometheus.Counter
	AlertErrors   prometheus.Counter
	SweepDuration prometheus.Histogram
}

// NewMetrics registers the sweep metrics on reg. A nil reg yields working,
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "plazos_scheduler_sweeps_total",
			Help: "Total number of alert sweeps",
		}),
		AlertsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "plazos_scheduler_alerts_fired_total",
			Help: "Alert thresholds confirmed as sent",
		}),
		AlertErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "plazos_scheduler_alert_errors_total",
			Help: "Alert deliveries that failed and were released for retry",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "plazos_scheduler_sweep_duration_seconds",
			Help:    "Duration of alert sweeps",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}),
	}
}
