// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/metrics"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/store"
)

// Sweeper is the out-of-band reconciliation loop. It periodically scans
// for processing records stuck in pending past the staleness threshold
// and re-drives them through the dispatcher's ProcessEnvelope path; the
// executor's applied markers make re-driving partially completed
// envelopes safe.
//
// Re-drives are rate limited and batch bounded so recovery never
// starves live traffic. After MaxSweepAttempts re-drives a record is
// moved to failed and surfaced on the DLQ instead of being swept
// forever.
type Sweeper struct {
	store      *store.Store
	dispatcher *Dispatcher
	serializer *Serializer
	limiter    *rate.Limiter
	config     SweeperConfig
}

// NewSweeper creates a sweeper.
func NewSweeper(cfg SweeperConfig, st *store.Store, dispatcher *Dispatcher) (*Sweeper, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Sweeper{
		store:      st,
		dispatcher: dispatcher,
		serializer: NewSerializer(),
		limiter:    limiter,
		config:     cfg,
	}, nil
}

// Run executes sweep cycles on a fixed interval until the context is
// canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle: scan a bounded batch of stale pending records
// and re-drive or dead-letter each. Returns how many records were
// touched.
func (s *Sweeper) Sweep(ctx context.Context) int {
	metrics.SweeperCycles.Inc()

	stale, err := s.store.ListStalePending(ctx, s.config.StalenessThreshold, s.config.BatchSize)
	if err != nil {
		logging.Error().Err(err).Msg("Sweeper scan failed")
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	logging.Info().Int("count", len(stale)).Msg("Sweeping stale records")

	touched := 0
	for _, rec := range stale {
		if err := s.limiter.Wait(ctx); err != nil {
			return touched
		}
		s.sweepRecord(ctx, rec)
		touched++
	}
	return touched
}

// sweepRecord re-drives one stale record, or dead-letters it once
// MaxSweepAttempts is exhausted.
func (s *Sweeper) sweepRecord(ctx context.Context, rec *models.ProcessingRecord) {
	if rec.SweepAttempts >= s.config.MaxSweepAttempts {
		s.deadLetter(ctx, rec, "sweep attempts exhausted")
		return
	}

	env, err := s.serializer.Unmarshal(rec.Envelope)
	if err != nil {
		// The stored envelope is unusable; no re-drive can ever succeed.
		s.deadLetter(ctx, rec, "stored envelope unreadable: "+err.Error())
		return
	}

	rec.SweepAttempts++
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertProcessingRecord(ctx, rec); err != nil {
		logging.Error().Str("event_id", rec.EventID).Err(err).Msg("Failed to bump sweep attempts")
		return
	}

	err = s.dispatcher.ProcessEnvelope(ctx, env, rec.Envelope)
	switch {
	case err == nil:
		metrics.RecordSweeperRedrive("resolved")
		logging.Info().
			Str("event_id", rec.EventID).
			Int("sweep_attempts", rec.SweepAttempts).
			Msg("Stale record re-driven to terminal state")
	case IsPermanentError(err):
		metrics.RecordSweeperRedrive("failed")
		logging.Warn().
			Str("event_id", rec.EventID).
			Err(err).
			Msg("Re-drive failed permanently")
	default:
		metrics.RecordSweeperRedrive("retry")
		logging.Debug().
			Str("event_id", rec.EventID).
			Int("sweep_attempts", rec.SweepAttempts).
			Err(err).
			Msg("Re-drive left record pending")
	}
}

// deadLetter moves a record to failed and surfaces it for inspection.
func (s *Sweeper) deadLetter(ctx context.Context, rec *models.ProcessingRecord, reason string) {
	rec.State = models.StateFailed
	rec.LastError = reason
	rec.InFlightUntil = time.Time{}
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.UpsertProcessingRecord(ctx, rec); err != nil {
		logging.Error().Str("event_id", rec.EventID).Err(err).Msg("Failed to dead-letter record")
		return
	}

	metrics.SweeperDeadLetters.Inc()
	metrics.RecordFailed()
	if dlq := s.dispatcher.DLQ(); dlq != nil {
		env, err := s.serializer.Unmarshal(rec.Envelope)
		if err != nil {
			env = &models.Envelope{EventID: rec.EventID, ProjectID: rec.ProjectID, SubjectID: rec.SubjectID, Type: rec.EventType}
		}
		dlq.AddEntry(env, NewPermanentError(reason, nil), rec.EventID)
	}
	logging.Warn().
		Str("event_id", rec.EventID).
		Str("project_id", rec.ProjectID).
		Str("reason", reason).
		Msg("Record dead-lettered")
}
