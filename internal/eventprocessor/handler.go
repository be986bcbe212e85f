// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"

	"github.com/perkforge/perkforge/internal/models"
)

// Handler owns one category of business semantics for incoming events.
//
// Handles declares the capability: whether this handler wants the
// envelope. Process consumes the envelope against a read-only subject
// snapshot and returns effect instructions for the executor; it must not
// mutate state nor the snapshot. Transient failures should be returned
// as *RetryableError, validation failures as *PermanentError; anything
// else is treated as retryable.
type Handler interface {
	// Name is the stable handler identifier used for metrics, applied
	// markers, and per-handler outcomes on the processing record.
	Name() string

	// Handles reports whether this handler claims the envelope. The
	// context is for handlers whose capability depends on tenant
	// configuration (active quests, active rules).
	Handles(ctx context.Context, env *models.Envelope) bool

	// Process consumes the envelope and returns effect instructions.
	Process(ctx context.Context, env *models.Envelope, state *models.SubjectState) ([]models.EffectInstruction, error)
}

// HandlerOutcome is the result of one handler's run for one envelope.
type HandlerOutcome struct {
	// Handler is the handler name.
	Handler string

	// Instructions are the pooled effect instructions on success.
	Instructions []models.EffectInstruction

	// Err is the terminal error after retries, nil on success.
	Err error

	// Permanent marks a failure that must not be re-driven.
	Permanent bool

	// Attempts is how many times the handler ran within this dispatch.
	Attempts int
}

// Success reports whether the handler terminated successfully.
func (o *HandlerOutcome) Success() bool {
	return o.Err == nil
}
