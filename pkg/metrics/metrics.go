package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics is the bootstrap instrumentation set. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	probeAttempts     *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	migrationsApplied prometheus.Counter
	migrationFailures prometheus.Counter
	migrationDuration *prometheus.HistogramVec
	phase             *prometheus.GaugeVec
}

// New registers the bootstrap metrics on the active registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func New() *Metrics {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}
	return NewWithRegisterer(reg)
}

// NewWithRegisterer registers the bootstrap metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		probeAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootgate_probe_attempts_total",
				Help: "Total number of dependency connection attempts by result",
			},
			[]string{"result"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bootgate_stage_duration_seconds",
				Help: "Wall-clock duration of bootstrap stages",
				Buckets: []float64{
					0.1, // already-reachable dependency
					0.5,
					1,
					5,
					10,
					30,
					60, // default probe deadline
					300,
				},
			},
			[]string{"stage", "result"},
		),
		migrationsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "bootgate_migrations_applied_total",
			Help: "Total number of schema migrations applied",
		}),
		migrationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "bootgate_migration_failures_total",
			Help: "Total number of schema migrations that failed and were rolled back",
		}),
		migrationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bootgate_migration_duration_seconds",
				Help:    "Duration of individual schema migrations",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8), // 5ms .. ~80s
			},
			[]string{"version"},
		),
		phase: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bootgate_bootstrap_phase",
				Help: "Current bootstrap phase (1 for the active phase, 0 otherwise)",
			},
			[]string{"phase"},
		),
	}
}

// RecordProbeAttempt counts one connection attempt.
func (m *Metrics) RecordProbeAttempt(success bool) {
	if m == nil {
		return
	}
	m.probeAttempts.WithLabelValues(result(success)).Inc()
}

// RecordMigration records one attempted migration.
func (m *Metrics) RecordMigration(version uint, d time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.migrationFailures.Inc()
		return
	}
	m.migrationsApplied.Inc()
	m.migrationDuration.WithLabelValues(strconv.FormatUint(uint64(version), 10)).Observe(d.Seconds())
}

// ObserveStage records how long a stage ran and how it ended.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, result(err == nil)).Observe(d.Seconds())
}

// SetPhase marks phase as the active bootstrap phase.
func (m *Metrics) SetPhase(phase string) {
	if m == nil {
		return
	}
	m.phase.Reset()
	m.phase.WithLabelValues(phase).Set(1)
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}
