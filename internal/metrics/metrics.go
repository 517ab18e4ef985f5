// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package metrics exposes Prometheus instrumentation for ReelRank:
// recommendation computation, cache efficiency, pipeline runs, embedding
// provider calls, and API latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendation metrics
	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelrank_recommend_duration_seconds",
			Help:    "Duration of recommendation computations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // "personalized", "similar", "popular"
	)

	RecommendFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelrank_recommend_fallbacks_total",
			Help: "Recommendations served from the popular-items fallback",
		},
	)

	RecommendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_recommend_errors_total",
			Help: "Recommendation computation errors",
		},
		[]string{"kind"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_cache_hits_total",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_cache_misses_total",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reelrank_cache_entries",
			Help: "Current number of live cache entries by cache name",
		},
		[]string{"cache"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_cache_invalidations_total",
			Help: "Cache invalidations by cache name and scope",
		},
		[]string{"cache", "scope"}, // scope: "user", "all"
	)

	// Pipeline metrics
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_pipeline_runs_total",
			Help: "Pipeline runs by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: "full", "incremental"; outcome: "success", "failure"
	)

	PipelineRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelrank_pipeline_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	PipelineSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelrank_pipeline_skips_total",
			Help: "Scheduler evaluations that decided no run was due",
		},
	)

	PipelineInteractionCounter = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelrank_pipeline_interaction_counter",
			Help: "Interactions accumulated since the last successful embedding-updating run",
		},
	)

	PipelineLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reelrank_pipeline_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run by mode",
		},
		[]string{"mode"},
	)

	// Vector store metrics
	SnapshotMovies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelrank_snapshot_movies",
			Help: "Movies in the active embedding snapshot",
		},
	)

	SnapshotSwaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelrank_snapshot_swaps_total",
			Help: "Atomic snapshot swaps applied to the vector store",
		},
	)

	// Embedding provider metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_embedding_requests_total",
			Help: "Embedding provider requests by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "rejected"
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelrank_embedding_request_duration_seconds",
			Help:    "Duration of embedding provider requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reelrank_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_api_requests_total",
			Help: "API requests by method, endpoint, and status code",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelrank_api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Trigger metrics
	TriggerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelrank_trigger_events_total",
			Help: "Trigger events consumed by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)
)

// RecordRecommendation records a recommendation computation.
func RecordRecommendation(kind string, duration time.Duration, err error) {
	RecommendDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		RecommendErrors.WithLabelValues(kind).Inc()
	}
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
	} else {
		CacheMisses.WithLabelValues(cache).Inc()
	}
}

// RecordPipelineRun records a completed pipeline run.
func RecordPipelineRun(mode string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	PipelineRuns.WithLabelValues(mode, outcome).Inc()
	PipelineRunDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if err == nil {
		PipelineLastSuccess.WithLabelValues(mode).Set(float64(time.Now().Unix()))
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
