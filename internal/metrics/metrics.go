// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package metrics provides Prometheus instrumentation for the event
// processing core: consumption, handler fan-out, effect application,
// sweeper recovery, and the dead letter queue.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event consumption

	EventsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_events_consumed_total",
			Help: "Total envelopes pulled off the stream",
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_events_processed_total",
			Help: "Total envelopes whose processing record reached processed",
		},
	)

	EventsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_events_failed_total",
			Help: "Total envelopes whose processing record reached failed",
		},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_events_deduplicated_total",
			Help: "Total redelivered envelopes short-circuited by the idempotency barrier",
		},
	)

	EventsParseFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_events_parse_failed_total",
			Help: "Total stream messages that failed envelope deserialization or validation",
		},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "perkforge_event_processing_duration_seconds",
			Help:    "End-to-end duration of one envelope dispatch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Handler fan-out

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perkforge_handler_duration_seconds",
			Help:    "Duration of one handler invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	HandlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perkforge_handler_failures_total",
			Help: "Total terminal handler failures",
		},
		[]string{"handler", "permanent"},
	)

	// Effect application

	EffectsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perkforge_effects_applied_total",
			Help: "Total effect instructions applied to subject state",
		},
		[]string{"kind"},
	)

	EffectsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_effects_skipped_total",
			Help: "Total effect groups skipped because their applied marker already existed",
		},
	)

	PointsGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_points_granted_total",
			Help: "Total loyalty points granted",
		},
	)

	// Sweeper

	SweeperCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_sweeper_cycles_total",
			Help: "Total sweeper scan cycles",
		},
	)

	SweeperRedrives = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perkforge_sweeper_redrives_total",
			Help: "Total stale records re-driven through the dispatch path",
		},
		[]string{"outcome"},
	)

	SweeperDeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perkforge_sweeper_dead_letters_total",
			Help: "Total records moved to failed after exhausting sweep attempts",
		},
	)

	// Dead letter queue

	DLQEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perkforge_dlq_entries",
			Help: "Current number of dead letter queue entries",
		},
	)

	DLQOldestAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perkforge_dlq_oldest_age_seconds",
			Help: "Age of the oldest dead letter queue entry",
		},
	)

	DLQAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perkforge_dlq_added_total",
			Help: "Total entries added to the dead letter queue",
		},
		[]string{"category"},
	)

	// Store

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perkforge_store_op_duration_seconds",
			Help:    "Duration of persistence operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// HTTP admin surface

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perkforge_http_request_duration_seconds",
			Help:    "Duration of admin API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordConsume increments the consumed counter.
func RecordConsume() { EventsConsumed.Inc() }

// RecordProcessed increments the processed counter and observes the
// dispatch duration.
func RecordProcessed(d time.Duration) {
	EventsProcessed.Inc()
	ProcessingDuration.Observe(d.Seconds())
}

// RecordFailed increments the failed counter.
func RecordFailed() { EventsFailed.Inc() }

// RecordDeduplicated increments the dedupe counter.
func RecordDeduplicated() { EventsDeduplicated.Inc() }

// RecordParseFailed increments the parse failure counter.
func RecordParseFailed() { EventsParseFailed.Inc() }

// RecordHandler observes one handler invocation.
func RecordHandler(handler string, d time.Duration) {
	HandlerDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// RecordHandlerFailure counts one terminal handler failure.
func RecordHandlerFailure(handler string, permanent bool) {
	HandlerFailures.WithLabelValues(handler, strconv.FormatBool(permanent)).Inc()
}

// RecordEffect counts one applied effect instruction.
func RecordEffect(kind string) { EffectsApplied.WithLabelValues(kind).Inc() }

// RecordPoints counts granted points.
func RecordPoints(points int64) { PointsGranted.Add(float64(points)) }

// RecordSweeperRedrive counts one sweeper re-drive with its outcome
// ("processed", "failed", "retry", "skipped").
func RecordSweeperRedrive(outcome string) {
	SweeperRedrives.WithLabelValues(outcome).Inc()
}

// RecordStoreOp observes one persistence operation.
func RecordStoreOp(op string, d time.Duration) {
	StoreOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordHTTPRequest observes one admin API request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// UpdateDLQGauges refreshes the DLQ gauges from handler stats.
func UpdateDLQGauges(entries int64, oldestAgeSeconds float64) {
	DLQEntries.Set(float64(entries))
	DLQOldestAge.Set(oldestAgeSeconds)
}
