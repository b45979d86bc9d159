package serve

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/druarnfield/composer-trigger/internal/trigger"
)

type metrics struct {
	invocations *prometheus.CounterVec
	duration    prometheus.Histogram
	malformed   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "composer_trigger_invocations_total",
				Help: "Trigger invocations by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "composer_trigger_invocation_duration_seconds",
				Help:    "Time from event receipt to handled, including token exchange",
				Buckets: prometheus.DefBuckets,
			},
		),
		malformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "composer_trigger_malformed_events_total",
				Help: "Events rejected before invocation",
			},
		),
	}
	reg.MustRegister(m.invocations, m.duration, m.malformed, collectors.NewGoCollector())
	return m
}

func (m *metrics) observe(outcome trigger.Outcome, elapsed time.Duration) {
	if outcome == "" {
		outcome = trigger.OutcomeFailed
	}
	m.invocations.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(elapsed.Seconds())
}
