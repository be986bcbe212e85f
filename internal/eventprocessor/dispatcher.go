// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/perkforge/perkforge/internal/cache"
	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/metrics"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/store"
)

// Dispatcher pulls envelopes off the stream, resolves idempotency,
// invokes the registry fan-out, and drives the processing record to a
// terminal state. The sweeper re-enters the same ProcessEnvelope path,
// so first-pass and recovery semantics are identical.
type Dispatcher struct {
	store      *store.Store
	registry   *Registry
	executor   *Executor
	serializer *Serializer
	dedup      *cache.DedupWindow
	partitions *partitionLocks
	breaker    *gobreaker.CircuitBreaker[ApplyResult]
	dlq        *DLQHandler
	config     DispatcherConfig
}

// NewDispatcher creates a dispatcher. The DLQ may be nil when
// dead-letter surfacing is not wanted (tests).
func NewDispatcher(cfg DispatcherConfig, st *store.Store, registry *Registry, executor *Executor, dlq *DLQHandler) (*Dispatcher, error) {
	if st == nil {
		return nil, ErrNilStore
	}

	cbCfg := DefaultCircuitBreakerConfig("effect-apply")
	breaker := gobreaker.NewCircuitBreaker[ApplyResult](gobreaker.Settings{
		Name:        cbCfg.Name,
		MaxRequests: cbCfg.MaxRequests,
		Interval:    cbCfg.Interval,
		Timeout:     cbCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cbCfg.FailureThreshold
		},
	})

	return &Dispatcher{
		store:      st,
		registry:   registry,
		executor:   executor,
		serializer: NewSerializer(),
		dedup:      cache.NewDedupWindow(cfg.DedupWindowSize, cfg.DedupWindowTTL),
		partitions: newPartitionLocks(cfg.PartitionStripes),
		breaker:    breaker,
		dlq:        dlq,
		config:     cfg,
	}, nil
}

// HandleMessage is the Watermill consumer entry point. Returning nil
// acks the message; returning an error lets the router middleware retry
// and eventually poison it.
func (d *Dispatcher) HandleMessage(msg *message.Message) error {
	metrics.RecordConsume()

	env, err := d.serializer.Unmarshal(msg.Payload)
	if err != nil {
		// Bytes that don't parse will never parse. Ack and count.
		metrics.RecordParseFailed()
		logging.Error().
			Str("message_uuid", msg.UUID).
			Err(err).
			Msg("Dropping unparsable envelope")
		return nil
	}

	if err := env.Validate(); err != nil {
		metrics.RecordParseFailed()
		d.rejectInvalid(msg.Context(), env, msg.Payload, err)
		return nil
	}

	return d.ProcessEnvelope(msg.Context(), env, msg.Payload)
}

// rejectInvalid records a permanently failed processing record for an
// envelope that fails validation, when it carries enough identity to
// record anything at all.
func (d *Dispatcher) rejectInvalid(ctx context.Context, env *models.Envelope, raw []byte, cause error) {
	permErr := NewPermanentError("invalid envelope", cause)
	logging.Warn().
		Str("event_id", env.EventID).
		Str("project_id", env.ProjectID).
		Err(cause).
		Msg("Rejecting invalid envelope")

	if d.dlq != nil {
		d.dlq.AddEntry(env, permErr, env.EventID)
	}
	if env.EventID == "" || env.ProjectID == "" {
		return
	}

	rec := models.NewProcessingRecord(env, raw)
	rec.State = models.StateFailed
	rec.LastError = permErr.Error()
	if err := d.store.UpsertProcessingRecord(ctx, rec); err != nil {
		logging.Error().Str("event_id", env.EventID).Err(err).Msg("Failed to record rejection")
	}
	metrics.RecordFailed()
}

// ProcessEnvelope runs one envelope through dedup, fan-out, and effect
// application. It is shared by the live consumer and the sweeper.
//
// A nil return means the envelope reached (or already had) a terminal
// state. A retryable error means the envelope stayed pending and is safe
// to redeliver or re-drive.
func (d *Dispatcher) ProcessEnvelope(ctx context.Context, env *models.Envelope, raw []byte) error {
	start := time.Now()
	dedupKey := env.ProjectID + ":" + env.EventID

	// Fast path: recently completed events skip the store entirely.
	if d.dedup.Contains(dedupKey) {
		metrics.RecordDeduplicated()
		return nil
	}

	// Same-subject envelopes share a partition and must not race:
	// quest steps and tier progression are read-modify-write over the
	// subject snapshot.
	unlock := d.partitions.lock(env.PartitionKey())
	defer unlock()

	rec, err := d.store.GetProcessingRecord(ctx, env.ProjectID, env.EventID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return NewRetryableError("store: load processing record", err)
	}
	if rec != nil && rec.Terminal() {
		d.dedup.Seen(dedupKey)
		metrics.RecordDeduplicated()
		return nil
	}
	if rec == nil {
		rec = models.NewProcessingRecord(env, raw)
		if err := d.store.UpsertProcessingRecord(ctx, rec); err != nil {
			return NewRetryableError("store: create processing record", err)
		}
	}

	// Claim the envelope so the sweeper and concurrent consumers don't
	// double-work it. A live claim elsewhere is a transient condition.
	until := time.Now().Add(d.config.InFlightTTL)
	if err := d.store.MarkInFlight(ctx, env.ProjectID, env.EventID, until); err != nil {
		if errors.Is(err, store.ErrInFlight) {
			return NewRetryableError("envelope claimed by another consumer", err)
		}
		return NewRetryableError("store: mark in flight", err)
	}

	state, err := d.store.ReadSubjectState(ctx, env.ProjectID, env.SubjectID)
	if err != nil {
		d.clearInFlight(ctx, env)
		return NewRetryableError("store: read subject state", err)
	}

	outcomes := d.registry.Dispatch(ctx, env, state)

	var pooled []models.EffectInstruction
	for i := range outcomes {
		if outcomes[i].Success() {
			pooled = append(pooled, outcomes[i].Instructions...)
		}
	}

	if _, err := d.breaker.Execute(func() (ApplyResult, error) {
		return d.executor.Apply(ctx, env, pooled)
	}); err != nil {
		d.recordAttempt(ctx, rec, outcomes, err)
		d.clearInFlight(ctx, env)
		if IsPermanentError(err) {
			return err
		}
		return NewRetryableError("apply effects", err)
	}

	return d.finishDispatch(ctx, start, env, rec, outcomes, dedupKey)
}

// finishDispatch folds handler outcomes into the processing record and
// decides its state: processed when every matched handler succeeded,
// failed when every failure is permanent, pending otherwise so a retry
// or sweep can resolve the transient failures.
func (d *Dispatcher) finishDispatch(ctx context.Context, start time.Time, env *models.Envelope, rec *models.ProcessingRecord, outcomes []HandlerOutcome, dedupKey string) error {
	now := time.Now().UTC()
	rec.Attempts++
	rec.InFlightUntil = time.Time{}
	rec.UpdatedAt = now

	allSuccess := true
	allFailuresPermanent := true
	var lastErr error
	for i := range outcomes {
		o := &outcomes[i]
		result := models.HandlerResult{
			Success:     o.Success(),
			Permanent:   o.Permanent,
			Attempts:    o.Attempts,
			CompletedAt: now,
		}
		if o.Err != nil {
			result.Error = o.Err.Error()
			lastErr = o.Err
			allSuccess = false
			if !o.Permanent {
				allFailuresPermanent = false
			}
		}
		rec.Handlers[o.Handler] = result
	}

	switch {
	case allSuccess:
		rec.State = models.StateProcessed
		rec.LastError = ""
	case allFailuresPermanent:
		rec.State = models.StateFailed
		rec.LastError = lastErr.Error()
	default:
		rec.LastError = lastErr.Error()
	}

	if err := d.store.UpsertProcessingRecord(ctx, rec); err != nil {
		d.clearInFlight(ctx, env)
		return NewRetryableError("store: update processing record", err)
	}

	switch rec.State {
	case models.StateProcessed:
		d.dedup.Seen(dedupKey)
		metrics.RecordProcessed(time.Since(start))
		return nil
	case models.StateFailed:
		metrics.RecordFailed()
		if d.dlq != nil {
			d.dlq.AddEntry(env, lastErr, env.EventID)
		}
		logging.Warn().
			Str("event_id", env.EventID).
			Str("project_id", env.ProjectID).
			Err(lastErr).
			Msg("Envelope failed permanently")
		return nil
	default:
		// Pending: transient handler failures remain. The live path
		// retries via router middleware; a crash leaves the record for
		// the sweeper.
		return NewRetryableError("partial handler failure", lastErr)
	}
}

// recordAttempt persists attempt bookkeeping when effect application
// itself failed, so the sweeper sees fresh attempt counts and errors.
func (d *Dispatcher) recordAttempt(ctx context.Context, rec *models.ProcessingRecord, outcomes []HandlerOutcome, cause error) {
	rec.Attempts++
	rec.LastError = cause.Error()
	rec.InFlightUntil = time.Time{}
	rec.UpdatedAt = time.Now().UTC()
	for i := range outcomes {
		o := &outcomes[i]
		if o.Err != nil {
			rec.Handlers[o.Handler] = models.HandlerResult{
				Success:     false,
				Permanent:   o.Permanent,
				Error:       o.Err.Error(),
				Attempts:    o.Attempts,
				CompletedAt: rec.UpdatedAt,
			}
		}
	}
	if err := d.store.UpsertProcessingRecord(ctx, rec); err != nil {
		logging.Error().Str("event_id", rec.EventID).Err(err).Msg("Failed to persist attempt")
	}
}

func (d *Dispatcher) clearInFlight(ctx context.Context, env *models.Envelope) {
	if err := d.store.ClearInFlight(ctx, env.ProjectID, env.EventID); err != nil {
		logging.Warn().Str("event_id", env.EventID).Err(err).Msg("Failed to clear in-flight marker")
	}
}

// DLQ exposes the dispatcher's dead letter queue (may be nil).
func (d *Dispatcher) DLQ() *DLQHandler {
	return d.dlq
}
