// Pixivpush - Personalized Pixiv Recommendation Daemon
// Copyright 2026 Pixivpush Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pixivpush/pixivpush

// Package metrics exposes Prometheus instrumentation for the daemon:
// pipeline tick outcomes, per-strategy candidate counts, notifier
// deliveries, reaction flow, tag-cleaner usage, and upstream client health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics.
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_ticks_total",
			Help: "Total pipeline ticks by outcome",
		},
		[]string{"outcome"}, // "ok", "error", "skipped"
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pixivpush_tick_duration_seconds",
			Help:    "Duration of a full pipeline tick",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	CandidatesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_candidates_fetched_total",
			Help: "Candidate works fetched per strategy",
		},
		[]string{"strategy"}, // "search", "subscription", "ranking"
	)

	CandidatesFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_candidates_filtered_total",
			Help: "Candidates dropped by the filter, by reason",
		},
		[]string{"reason"},
	)

	// Delivery metrics.
	WorksPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_works_pushed_total",
			Help: "Works delivered per notifier backend",
		},
		[]string{"backend"},
	)

	DeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_delivery_errors_total",
			Help: "Delivery failures per notifier backend",
		},
		[]string{"backend"},
	)

	// Reaction metrics.
	Reactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_reactions_total",
			Help: "User reactions applied to the profile",
		},
		[]string{"action"}, // "like", "dislike", "skip"
	)

	MirrorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixivpush_mirror_failures_total",
			Help: "Best-effort platform mirror calls that failed",
		},
	)

	// Tag cleaner metrics.
	CleanerBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_cleaner_batches_total",
			Help: "Tag cleaner batches by outcome",
		},
		[]string{"outcome"}, // "ok", "error", "cached"
	)

	CleanerCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixivpush_cleaner_cache_entries",
			Help: "Entries in the tag clean cache",
		},
	)

	// Upstream client metrics.
	PlatformRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixivpush_platform_requests_total",
			Help: "Requests to the illustration platform by endpoint and status",
		},
		[]string{"endpoint", "status"}, // status: "ok", "rate_limited", "auth", "error"
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixivpush_platform_breaker_state",
			Help: "Platform circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
