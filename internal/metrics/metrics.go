// Package metrics holds the prometheus collectors for the ingestion pipeline,
// the job runner and the HTTP API. Collectors register with the default
// registry and are exposed by the server at /metrics.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Track outcomes recorded by [RecordTrack].
const (
	OutcomeEncoded        = "encoded"
	OutcomeLinked         = "linked"
	OutcomeAlreadyEncoded = "already_encoded"
	OutcomeNoPreview      = "no_preview"
	OutcomeFetchFailed    = "fetch_failed"
	OutcomeDecodeFailed   = "decode_failed"
	OutcomeEmbedFailed    = "embed_failed"
	OutcomeStoreFailed    = "store_failed"
)

var (
	// Pipeline
	TracksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_tracks_processed_total",
			Help: "Tracks handled by ingestion runs, by outcome",
		},
		[]string{"outcome"},
	)

	IngestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_ingest_runs_total",
			Help: "Completed ingestion runs",
		},
		[]string{"result"}, // finished, failed
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "soundalike_ingest_duration_seconds",
			Help:    "Wall time of ingestion runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soundalike_stage_duration_seconds",
			Help:    "Per-track stage latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"}, // fetch_decode, embed, resolve
	)

	PreviewLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_preview_lookups_total",
			Help: "Preview URL resolution attempts",
		},
		[]string{"result"}, // found, missing, error
	)

	PlaylistRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_playlist_runs_total",
			Help: "Completed playlist generation runs",
		},
		[]string{"result"},
	)

	// Job runner
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_jobs_enqueued_total",
			Help: "Jobs accepted by the runner",
		},
		[]string{"kind"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_jobs_completed_total",
			Help: "Jobs that reached a terminal state",
		},
		[]string{"kind", "state"},
	)

	JobQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soundalike_job_queue_depth",
			Help: "Jobs waiting for a worker",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soundalike_job_duration_seconds",
			Help:    "Job run time from start to terminal state",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)

	// HTTP API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_api_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soundalike_api_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soundalike_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soundalike_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordTrack counts one track outcome.
func RecordTrack(outcome string) {
	TracksProcessed.WithLabelValues(outcome).Inc()
}

// RecordIngest records a finished or failed ingestion run.
func RecordIngest(d time.Duration, err error) {
	IngestRuns.WithLabelValues(result(err)).Inc()
	IngestDuration.Observe(d.Seconds())
}

// RecordPlaylist records a finished or failed playlist run.
func RecordPlaylist(err error) {
	PlaylistRuns.WithLabelValues(result(err)).Inc()
}

// ObserveStage records the latency of one per-track stage.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPreviewLookup counts a preview resolution result.
func RecordPreviewLookup(result string, n int) {
	PreviewLookups.WithLabelValues(result).Add(float64(n))
}

// RecordJobEnqueued counts an accepted job.
func RecordJobEnqueued(kind string) {
	JobsEnqueued.WithLabelValues(kind).Inc()
}

// RecordJobDone counts a terminal job and its run time.
func RecordJobDone(kind, state string, d time.Duration) {
	JobsCompleted.WithLabelValues(kind, state).Inc()
	JobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordBreakerTransition updates the state gauge and transition counter.
// It matches the signature of [gobreaker.Settings.OnStateChange].
func RecordBreakerTransition(name string, from, to gobreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
	CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// RecordBreakerResult counts a call made through a breaker.
func RecordBreakerResult(name string, err error) {
	switch {
	case err == nil:
		CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
	default:
		CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "finished"
}
