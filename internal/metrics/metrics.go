// Package metrics holds the Prometheus collectors of the telemetry service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_events_ingested_total",
		Help: "Playback events durably persisted",
	})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_events_rejected_total",
		Help: "Playback events not persisted, by stage",
	}, []string{"stage"}) // "validation", "storage"

	IngestBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playback_ingest_batch_size",
		Help:    "Records per ingestion request",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
	})

	DuplicateFingerprints = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playback_ingest_duplicate_fingerprints_total",
		Help: "Events repeating a fingerprint already present in the same request",
	})

	ReportQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playback_report_query_duration_seconds",
		Help:    "Duration of report aggregation queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"aggregate"}) // "summary", "by_asset", "by_device", "by_playlist"

	ReportQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_report_query_errors_total",
		Help: "Failed report aggregation queries",
	}, []string{"aggregate"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "route", "status_code"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})
)

// ObserveQuery records the duration and outcome of one aggregation query.
func ObserveQuery(aggregate string, start time.Time, err error) {
	ReportQueryDuration.WithLabelValues(aggregate).Observe(time.Since(start).Seconds())
	if err != nil {
		ReportQueryErrors.WithLabelValues(aggregate).Inc()
	}
}

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
