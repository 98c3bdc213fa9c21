package track

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus metrics for the cleanup engine.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "atomflow").
	Namespace string

	// Subsystem is the metrics subsystem (default: "cleanup").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for sweep duration in seconds.
	// Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures the metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the sweep-duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "atomflow",
		Subsystem: "cleanup",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus instruments updated on every sweep.
type Metrics struct {
	sweepsTotal   prometheus.Counter
	atomsRemoved  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	trackedAtoms  prometheus.Gauge
	archivedAtoms prometheus.Gauge
	eventsTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns the cleanup metrics. Pass WithRegistry
// to keep test registrations isolated.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		sweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "sweeps_total",
			Help:        "Total cleanup sweeps executed.",
			ConstLabels: cfg.ConstLabels,
		}),
		atomsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "atoms_removed_total",
			Help:        "Total atoms reclaimed, by action.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"action"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "sweep_duration_seconds",
			Help:        "Duration of cleanup sweeps.",
			Buckets:     cfg.Buckets,
			ConstLabels: cfg.ConstLabels,
		}),
		trackedAtoms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "tracked_atoms",
			Help:        "Atoms currently in the lifecycle ledger.",
			ConstLabels: cfg.ConstLabels,
		}),
		archivedAtoms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "archived_atoms",
			Help:        "Atoms currently held in archive storage.",
			ConstLabels: cfg.ConstLabels,
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "events_total",
			Help:        "Lifecycle events emitted, by type.",
			ConstLabels: cfg.ConstLabels,
		}, []string{"type"}),
	}
}

// BindTracker counts every lifecycle event the tracker emits. Returns the
// listener's cancel function.
func (m *Metrics) BindTracker(t *Tracker) (cancel func()) {
	return t.Subscribe(func(ev Event) {
		m.eventsTotal.WithLabelValues(string(ev.Type)).Inc()
	})
}

// observeSweep records one sweep's outcome.
func (m *Metrics) observeSweep(r SweepResult, tracked, archived int) {
	m.sweepsTotal.Inc()
	if r.Removed > 0 {
		m.atomsRemoved.WithLabelValues(r.Action.String()).Add(float64(r.Removed))
	}
	m.sweepDuration.Observe(r.Duration.Seconds())
	m.trackedAtoms.Set(float64(tracked))
	m.archivedAtoms.Set(float64(archived))
}
