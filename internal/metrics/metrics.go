package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation metrics
var (
	// JobsTotal counts settled generation jobs by kind and terminal status
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_generation_jobs_total",
			Help: "Settled generation jobs by job kind and status",
		},
		[]string{"job", "status"},
	)

	// JobDuration tracks collaborator latency per job kind
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_generation_job_duration_seconds",
			Help:    "Generation job duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"job"},
	)

	// RunsTotal counts orchestration runs by aggregate outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_generation_runs_total",
			Help: "Orchestration runs by aggregate state",
		},
		[]string{"state"},
	)

	// LockContention counts refused lock acquisitions
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_generation_lock_contention_total",
			Help: "Generation starts refused because a run was in flight",
		},
	)
)

// Persistence metrics
var (
	// CreationsSaved counts successfully saved creations
	CreationsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_creations_saved_total",
			Help: "Creations appended to the durable collection",
		},
	)

	// SaveRejections counts refused saves by reason
	SaveRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_creation_save_rejections_total",
			Help: "Refused creation saves by reason (quota, incomplete, error)",
		},
		[]string{"reason"},
	)

	// SweptEntries counts entries removed by the expiration sweeper by scope
	SweptEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_swept_entries_total",
			Help: "Entries removed by the expiration sweeper by scope (durable/session)",
		},
		[]string{"scope"},
	)
)

// Resource cache and collaborator health
var (
	// CacheEntries tracks live resource cache entries
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_resource_cache_entries",
			Help: "Live entries in the resource cache",
		},
	)

	// HandlesRevoked counts revoked display handles
	HandlesRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_display_handles_revoked_total",
			Help: "Display handles revoked by the resource cache",
		},
	)

	// BreakerState tracks collaborator circuit breaker state (0=closed, 1=half-open, 2=open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studio_collaborator_breaker_state",
			Help: "Collaborator circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"collaborator"},
	)
)
