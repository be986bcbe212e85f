// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// ProcessingState is the lifecycle state of one envelope's processing.
type ProcessingState string

const (
	// StatePending means the envelope was durably accepted but has not
	// reached a terminal outcome for every matched handler.
	StatePending ProcessingState = "pending"
	// StateProcessed means every matched handler completed successfully.
	StateProcessed ProcessingState = "processed"
	// StateFailed means the envelope was permanently abandoned after
	// exhausting retries or failing validation.
	StateFailed ProcessingState = "failed"
)

// HandlerResult is the persisted terminal outcome of one handler for one
// envelope. Kept per handler so recovery re-drives can tell which
// concerns already completed.
type HandlerResult struct {
	Success     bool      `json:"success"`
	Permanent   bool      `json:"permanent,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	CompletedAt time.Time `json:"completed_at"`
}

// ProcessingRecord is the persisted lifecycle state for one envelope.
//
// Records are created when the dispatcher first durably accepts an
// envelope, transition to processed or failed only after every matched
// handler reports a terminal outcome, and are never deleted: they serve
// as the audit trail and the idempotency barrier against redelivery.
type ProcessingRecord struct {
	EventID   string          `json:"event_id"`
	ProjectID string          `json:"project_id"`
	SubjectID string          `json:"subject_id"`
	EventType string          `json:"event_type"`
	State     ProcessingState `json:"state"`

	// Envelope is the original serialized envelope, retained so the
	// sweeper can re-enter the dispatch path with identical input.
	Envelope json.RawMessage `json:"envelope,omitempty"`

	// Handlers maps handler name to its most recent terminal outcome.
	Handlers map[string]HandlerResult `json:"handlers,omitempty"`

	// Attempts counts live dispatch attempts; SweepAttempts counts
	// out-of-band sweeper re-drives. Both are bounded.
	Attempts      int `json:"attempts"`
	SweepAttempts int `json:"sweep_attempts"`

	// InFlightUntil is the expiry of the in-flight marker. A live
	// consumer holds the marker while processing so the sweeper does not
	// re-drive an envelope that is being worked on.
	InFlightUntil time.Time `json:"in_flight_until,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProcessingRecord creates a pending record for an envelope.
func NewProcessingRecord(env *Envelope, raw json.RawMessage) *ProcessingRecord {
	now := time.Now().UTC()
	return &ProcessingRecord{
		EventID:   env.EventID,
		ProjectID: env.ProjectID,
		SubjectID: env.SubjectID,
		EventType: env.Type,
		State:     StatePending,
		Envelope:  raw,
		Handlers:  make(map[string]HandlerResult),
		FirstSeen: now,
		UpdatedAt: now,
	}
}

// Terminal reports whether the record reached a terminal state.
func (r *ProcessingRecord) Terminal() bool {
	return r.State == StateProcessed || r.State == StateFailed
}

// InFlight reports whether a live consumer currently holds the record.
func (r *ProcessingRecord) InFlight(now time.Time) bool {
	return now.Before(r.InFlightUntil)
}

// Stale reports whether a pending record has been left non-terminal past
// the staleness threshold and is eligible for a sweeper re-drive.
func (r *ProcessingRecord) Stale(now time.Time, threshold time.Duration) bool {
	if r.State != StatePending {
		return false
	}
	if r.InFlight(now) {
		return false
	}
	return now.Sub(r.UpdatedAt) > threshold
}
