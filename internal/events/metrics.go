package events

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the build exposes for scraping.
// Constructing a Metrics and wiring its Subscriber onto the bus is how C5
// (executor) and C8 (event bus) satisfy the domain stack's observability
// requirement without either package importing the other directly.
type Metrics struct {
	targetsStarted   prometheus.Counter
	targetsCompleted prometheus.Counter
	targetsCached    prometheus.Counter
	targetsFailed    prometheus.Counter
	buildDuration    prometheus.Histogram
}

// NewMetrics registers a fresh set of collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		targetsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "builder_targets_started_total",
			Help: "Number of targets that entered the Building state.",
		}),
		targetsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "builder_targets_completed_total",
			Help: "Number of targets that completed successfully (excludes cache hits).",
		}),
		targetsCached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "builder_targets_cached_total",
			Help: "Number of targets served from the target cache.",
		}),
		targetsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "builder_targets_failed_total",
			Help: "Number of targets that ended in the Failed state.",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "builder_build_duration_seconds",
			Help:    "Wall-clock duration of completed builds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.targetsStarted, m.targetsCompleted, m.targetsCached, m.targetsFailed, m.buildDuration)
	return m
}

// Subscriber returns a Subscriber that updates m from lifecycle events.
func (m *Metrics) Subscriber() Subscriber {
	return func(e Event) {
		switch e.Kind {
		case KindTargetStarted:
			m.targetsStarted.Inc()
		case KindTargetCompleted:
			m.targetsCompleted.Inc()
		case KindTargetCached:
			m.targetsCached.Inc()
		case KindTargetFailed:
			m.targetsFailed.Inc()
		case KindStatistics:
			m.buildDuration.Observe(float64(e.Stats.ElapsedMillis) / 1000.0)
		}
	}
}
