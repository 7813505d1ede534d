package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sandboxesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandboxd_sandboxes_created_total",
		Help: "Sandboxes successfully provisioned.",
	})
	sandboxesDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandboxd_sandboxes_destroyed_total",
		Help: "Sandboxes destroyed.",
	})
	sandboxesReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sandboxd_sandboxes_reaped_total",
		Help: "Idle sandboxes destroyed by the cleanup scheduler.",
	})
	sandboxesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sandboxd_sandboxes_active",
		Help: "Sandboxes currently recorded as running.",
	})
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandboxd_jobs_processed_total",
		Help: "Jobs processed, by kind and terminal status.",
	}, []string{"kind", "status"})
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sandboxd_job_duration_seconds",
		Help:    "Wall-clock time spent processing a job.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"kind"})
)

func IncSandboxesCreated() {
	sandboxesCreated.Inc()
	sandboxesActive.Inc()
}

func IncSandboxesDestroyed() { sandboxesDestroyed.Inc() }

// DecSandboxesActive is called whenever a sandbox leaves the running state,
// whatever it transitions to. Destroying an already stopped or errored sandbox
// must not move the gauge.
func DecSandboxesActive() { sandboxesActive.Dec() }

func IncSandboxesReaped() { sandboxesReaped.Inc() }

func ObserveJob(kind, status string, d time.Duration) {
	jobsProcessed.WithLabelValues(kind, status).Inc()
	jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}
