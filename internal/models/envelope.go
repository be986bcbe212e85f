// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current envelope schema version.
// Increment this when making breaking changes to Envelope.
const SchemaVersion = 1

// Provenance constants distinguish trusted server-issued events from
// untrusted client-issued events. Financial effects (commissions, point
// grants for purchases) are only permitted for server provenance.
const (
	// ProvenanceServer marks an event issued by a trusted server SDK.
	ProvenanceServer = "server"
	// ProvenanceClient marks an event issued by an untrusted client SDK.
	ProvenanceClient = "client"
)

// Well-known event types. The type tag is free-form per tenant; these
// are the types the specialized handlers claim.
const (
	// EventTypePurchase is a completed purchase with an "amount" property
	// in minor currency units.
	EventTypePurchase = "purchase"
	// EventTypeSignup is an account creation event.
	EventTypeSignup = "signup"
	// EventTypeIdentify carries subject trait updates in its properties.
	EventTypeIdentify = "identify"
	// EventTypeTrack is a generic analytics event with no fixed semantics.
	EventTypeTrack = "track"
)

// Envelope is the normalized event record flowing through the stream.
//
// The event ID is unique per tenant and is the idempotency key for all
// downstream effects: an envelope redelivered with the same ID must never
// produce a second set of effects.
type Envelope struct {
	// Schema version for forward/backward compatibility.
	SchemaVersion int `json:"schema_version,omitempty"`

	// EventID is the globally unique event identifier (idempotency key).
	EventID string `json:"event_id"`

	// ProjectID is the tenant scoping rules and subject state.
	ProjectID string `json:"project_id"`

	// SubjectID is the end user whose progress state is mutated.
	SubjectID string `json:"subject_id"`

	// Type is the event type tag, e.g. "purchase", "signup", "track".
	Type string `json:"type"`

	// Properties is the free-form property map supplied by the SDK.
	Properties map[string]any `json:"properties,omitempty"`

	// OccurredAt is the client-observed timestamp.
	OccurredAt time.Time `json:"occurred_at"`

	// ReceivedAt is the server-received timestamp, set at ingest.
	ReceivedAt time.Time `json:"received_at"`

	// Provenance is "server" for trusted server-issued events and
	// "client" for untrusted client-issued events.
	Provenance string `json:"provenance"`
}

// NewEnvelope creates an envelope with a unique ID, timestamps, and the
// current schema version.
func NewEnvelope(projectID, subjectID, eventType string) *Envelope {
	now := time.Now().UTC()
	return &Envelope{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		ProjectID:     projectID,
		SubjectID:     subjectID,
		Type:          eventType,
		OccurredAt:    now,
		ReceivedAt:    now,
		Provenance:    ProvenanceServer,
	}
}

// Validate checks required fields and returns an error if validation fails.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.ProjectID == "" {
		return &ValidationError{Field: "project_id", Message: "required"}
	}
	if e.SubjectID == "" {
		return &ValidationError{Field: "subject_id", Message: "required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Message: "required"}
	}
	if e.Provenance != ProvenanceServer && e.Provenance != ProvenanceClient {
		return &ValidationError{Field: "provenance", Message: "must be server or client"}
	}
	return nil
}

// Topic returns the NATS subject for this envelope.
// Format: events.<project>.<type>
// Example: events.acme.purchase
func (e *Envelope) Topic() string {
	return "events." + e.ProjectID + "." + e.Type
}

// PartitionKey returns the key used to pin all events for one subject to
// one ordered partition. Ordering-sensitive effects (tier progression,
// quest steps) rely on same-subject events never being parallelized.
func (e *Envelope) PartitionKey() string {
	return e.ProjectID + ":" + e.SubjectID
}

// Trusted reports whether the envelope carries server provenance.
func (e *Envelope) Trusted() bool {
	return e.Provenance == ProvenanceServer
}

// PropString returns a string property, with ok reporting presence.
func (e *Envelope) PropString(key string) (string, bool) {
	v, ok := e.Properties[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// PropNumber returns a numeric property coerced to float64.
// JSON numbers decode as float64; int variants appear when envelopes are
// constructed in-process.
func (e *Envelope) PropNumber(key string) (float64, bool) {
	v, ok := e.Properties[key]
	if !ok {
		return 0, false
	}
	return CoerceNumber(v)
}

// CoerceNumber converts the numeric types an envelope property can hold
// into a float64. Returns false for non-numeric values.
func CoerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
