// Package obsmetrics exposes the Prometheus metrics every Sentinel
// subsystem records to. Registration happens once in init() so that
// importing this package anywhere is enough to pull a metric into the
// default registry.
package obsmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_missions_total",
			Help: "Total number of missions by terminal state",
		},
		[]string{"state"},
	)

	MissionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_missions_active",
			Help: "Number of missions currently in RUNNING or QUEUED state",
		},
	)

	TasksDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to the swarm by kind",
		},
		[]string{"kind"},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_tasks_completed_total",
			Help: "Total number of tasks completed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CommitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_commit_decisions_total",
			Help: "Total number of commit decisions by resulting state",
		},
		[]string{"state"},
	)

	CommitExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_commit_expired_total",
			Help: "Total number of NEEDS_CONFIRM countdowns that expired without approval",
		},
	)

	WorkersLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_workers_live",
			Help: "Number of live worker executions by kind",
		},
		[]string{"kind"},
	)

	WorkerSpawnLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_worker_spawn_latency_seconds",
			Help:    "Time spent executing one worker step",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_ledger_append_duration_seconds",
			Help:    "Time to append and fsync one ledger entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerAppendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ledger_append_total",
			Help: "Total number of ledger entries appended by kind",
		},
		[]string{"kind"},
	)

	CapabilityStage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_capability_stage",
			Help: "Current capability stage as an ordinal (0=DORMANT..4=APEX)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MissionsTotal,
		MissionsActive,
		TasksDispatched,
		TasksCompleted,
		CommitDecisions,
		CommitExpired,
		WorkersLive,
		WorkerSpawnLatency,
		LedgerAppendDuration,
		LedgerAppendTotal,
		CapabilityStage,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and observing its
// duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
