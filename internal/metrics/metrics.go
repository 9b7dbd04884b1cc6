// Package metrics defines the recorder's Prometheus metrics. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recorder"

// Cycle outcomes.
const (
	OutcomeWritten = "written"
	OutcomeStale   = "stale"
	OutcomeAbsent  = "absent"
	OutcomeFailed  = "failed"
)

// Watch event results.
const (
	WatchAccepted  = "accepted"
	WatchCooldown  = "cooldown"
	WatchUnchanged = "unchanged"
)

// Recorder holds the poll loop metrics.
type Recorder struct {
	cycles        *prometheus.CounterVec // by outcome
	fetchErrors   *prometheus.CounterVec // by error kind
	writeErrors   prometheus.Counter
	cycleDuration prometheus.Histogram
	lastSuccess   prometheus.Gauge
	watchEvents   *prometheus.CounterVec // by result
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	m := &Recorder{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Sampling cycles by outcome",
		}, []string{"outcome"}), // written, stale, absent, failed

		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Source fetch failures by error kind",
		}, []string{"kind"}),

		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Sink write failures",
		}),

		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one fetch and write cycle",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that wrote a record",
		}),

		watchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "File change events by result",
		}, []string{"result"}), // accepted, cooldown, unchanged
	}

	for _, c := range []prometheus.Collector{
		m.cycles, m.fetchErrors, m.writeErrors, m.cycleDuration, m.lastSuccess, m.watchEvents,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// Pre-create label values so every series is exported from the start.
	for _, o := range []string{OutcomeWritten, OutcomeStale, OutcomeAbsent, OutcomeFailed} {
		m.cycles.WithLabelValues(o)
	}
	for _, r := range []string{WatchAccepted, WatchCooldown, WatchUnchanged} {
		m.watchEvents.WithLabelValues(r)
	}
	return m, nil
}

// Cycle records a finished cycle.
func (m *Recorder) Cycle(outcome string, d time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(d.Seconds())
	if outcome == OutcomeWritten || outcome == OutcomeStale {
		m.lastSuccess.Set(float64(at.UnixNano()) / 1e9)
	}
}

// FetchError records a source failure of the given kind.
func (m *Recorder) FetchError(kind string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(kind).Inc()
}

// WriteError records a sink failure.
func (m *Recorder) WriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Inc()
}

// WatchEvent records how a file change event was handled.
func (m *Recorder) WatchEvent(result string) {
	if m == nil {
		return
	}
	m.watchEvents.WithLabelValues(result).Inc()
}
