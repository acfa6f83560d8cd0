package simpledoc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace           = "simpledoc"
	permissionSubsystem = "permission"
	versionSubsystem    = "version"
	searchSubsystem     = "search"
	activitySubsystem   = "activity"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	versionsCreated  *prometheus.CounterVec
	versionConflicts prometheus.Counter
	auditFailures    prometheus.Counter
	searchDuration   prometheus.Histogram
	searchResults    prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: permissionSubsystem,
			Name:      "decisions_total",
			Help:      "The total number of capability checks.",
		}, []string{"capability", "result"}),
		versionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: versionSubsystem,
			Name:      "created_total",
			Help:      "The total number of versions appended.",
		}, []string{"action"}),
		versionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: versionSubsystem,
			Name:      "conflicts_total",
			Help:      "The total number of version sequence conflicts.",
		}),
		auditFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: activitySubsystem,
			Name:      "failures_total",
			Help:      "The total number of activity entries that could not be written.",
		}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: searchSubsystem,
			Name:      "duration_seconds",
			Help:      "Search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		searchResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: searchSubsystem,
			Name:      "results",
			Help:      "Results returned per search page.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200, 500},
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) decision(c Capability, allowed bool) {
	if m == nil {
		return
	}
	result := string(ResultAllowed)
	if !allowed {
		result = string(ResultDenied)
	}
	m.decisions.WithLabelValues(string(c), result).Inc()
}

func (m *Metrics) versionCreated(action ActivityAction) {
	if m == nil {
		return
	}
	m.versionsCreated.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) versionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

func (m *Metrics) auditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) searched(start time.Time, results int) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(time.Since(start).Seconds())
	m.searchResults.Observe(float64(results))
}
