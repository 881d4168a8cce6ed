package jobregistry

import "github.com/prometheus/client_golang/prometheus"

const metricsPrefix = "procctl_"

// Metrics holds the registry collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	submitted     prometheus.Counter
	completed     *prometheus.CounterVec
	active        prometheus.Gauge
	killed        prometheus.Counter
	evicted       prometheus.Counter
	sweepDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "jobs_submitted_total",
			Help: "Total number of jobs submitted.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state, by state.",
		}, []string{"state"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricsPrefix + "jobs_active",
			Help: "Number of jobs submitted but not yet terminal.",
		}),
		killed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "jobs_killed_total",
			Help: "Total number of kill requests accepted.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "jobs_evicted_total",
			Help: "Total number of finished jobs evicted from the registry.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricsPrefix + "eviction_sweep_duration_seconds",
			Help:    "Duration of eviction sweeps, in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	// Pre-initialize terminal states so they appear in /metrics.
	for _, s := range []JobState{JobStateFinished, JobStateFailed, JobStateCancelled} {
		m.completed.WithLabelValues(string(s))
	}

	if reg != nil {
		reg.MustRegister(m.submitted, m.completed, m.active, m.killed, m.evicted, m.sweepDuration)
	}
	return m
}

func (m *Metrics) jobSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.active.Inc()
}

func (m *Metrics) jobCompleted(state JobState) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(string(state)).Inc()
	m.active.Dec()
}

func (m *Metrics) jobKilled() {
	if m == nil {
		return
	}
	m.killed.Inc()
}

func (m *Metrics) jobsEvicted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evicted.Add(float64(n))
}

func (m *Metrics) observeSweep(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
