package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ReplayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_requests_total",
			Help: "Replay requests by collection and outcome.",
		},
		[]string{"collection", "outcome"}, // top_frame, listing, blob_redirect, hit, miss, bad_url
	)

	IndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_entries_total",
			Help: "Entries written by the record indexer.",
		},
		[]string{"kind"}, // resource, revisit, page
	)

	IndexDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_dropped_records_total",
			Help: "Capture records dropped during indexing.",
		},
		[]string{"reason"},
	)

	IngestJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_total",
			Help: "Total number of ingest jobs processed.",
		},
		[]string{"status"}, // completed, retry, failed
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Duration of ingest jobs.",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"collection"},
	)

	SourcesInQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_sources_in_queue",
			Help: "Current number of capture sources waiting for ingestion.",
		},
	)
)
