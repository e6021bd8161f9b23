package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_ingest_fetch_jobs_total",
			Help: "Detail fetch jobs by final outcome (ok, missing, error, skipped)",
		},
		[]string{"outcome"},
	)

	FetchJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duel_ingest_fetch_job_duration_seconds",
			Help:    "Duration of one detail fetch job including persistence",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	EndpointAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_ingest_endpoint_attempts_total",
			Help: "Candidate endpoint attempts by match family and result class",
		},
		[]string{"family", "result"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duel_ingest_queue_depth",
			Help: "Matches still waiting in the current ingestion pass",
		},
	)

	GeoResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_ingest_geo_resolutions_total",
			Help: "Country resolutions by source (cache, polygon, remote, none, unanswered, invalid)",
		},
		[]string{"source"},
	)

	GeoDatasetLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_ingest_geo_dataset_loads_total",
			Help: "Country boundary dataset load attempts",
		},
		[]string{"status"},
	)

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duel_ingest_sync_runs_total",
			Help: "Ingestion passes by trigger and status",
		},
		[]string{"trigger", "status"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duel_ingest_sync_duration_seconds",
			Help:    "Duration of a whole ingestion pass",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)
)

var CircuitTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "duel_ingest_circuit_transitions_total",
		Help: "Circuit breaker state changes by breaker name and target state",
	},
	[]string{"breaker", "to"},
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "duel_ingest_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern and status code",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"route", "status"},
)
