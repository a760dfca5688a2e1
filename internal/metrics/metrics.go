// Package metrics defines and registers the daemon's Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragd_ticks_total",
			Help: "Total number of scheduler ticks",
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragd_tick_duration_seconds",
			Help:    "Scheduler tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReposRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragd_repos_registered",
			Help: "Number of repositories in the registry",
		},
	)

	// Worker metrics
	RunningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragd_running_jobs",
			Help: "Number of jobs currently held by workers",
		},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragd_jobs_total",
			Help: "Total number of finished jobs by outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragd_job_duration_seconds",
			Help:    "Per-repo job duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	// Pipeline metrics
	SpansIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragd_spans_indexed_total",
			Help: "Total number of spans touched by differential replace, by operation",
		},
		[]string{"op"},
	)

	EnrichmentAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragd_enrichment_attempts_total",
			Help: "Total number of enrichment attempts by tier and result",
		},
		[]string{"tier", "result"},
	)

	EmbeddingsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragd_embeddings_written_total",
			Help: "Total number of embedding vectors written by route",
		},
		[]string{"route"},
	)
)

// Label values for SpansIndexed.
const (
	OpAdded     = "added"
	OpDeleted   = "deleted"
	OpUnchanged = "unchanged"
)

func init() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(ReposRegistered)
	prometheus.MustRegister(RunningJobs)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(SpansIndexed)
	prometheus.MustRegister(EnrichmentAttempts)
	prometheus.MustRegister(EmbeddingsWritten)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
