// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"sort"

	"github.com/perkforge/perkforge/internal/models"
)

// Handler names. These are stable identifiers: applied markers and
// per-handler outcomes on processing records are keyed by them, so
// renaming one invalidates idempotency history.
const (
	HandlerTracking    = "tracking"
	HandlerIdentity    = "identity"
	HandlerPurchase    = "purchase"
	HandlerProgression = "progression"
	HandlerQuest       = "quest"
	HandlerRules       = "rules"
	HandlerDefault     = "default"
)

// TrackingHandler records generic analytics events. Its only state
// effect is touching the subject's activity streak for the event's
// occurred-at day; the envelope itself is already durably persisted by
// the dispatcher's processing record.
type TrackingHandler struct{}

// NewTrackingHandler creates the tracking handler.
func NewTrackingHandler() *TrackingHandler {
	return &TrackingHandler{}
}

// Name implements Handler.
func (h *TrackingHandler) Name() string { return HandlerTracking }

// Handles implements Handler.
func (h *TrackingHandler) Handles(_ context.Context, env *models.Envelope) bool {
	return env.Type == models.EventTypeTrack
}

// Process implements Handler.
func (h *TrackingHandler) Process(_ context.Context, env *models.Envelope, _ *models.SubjectState) ([]models.EffectInstruction, error) {
	return []models.EffectInstruction{{
		ProjectID: env.ProjectID,
		SubjectID: env.SubjectID,
		Kind:      models.EffectStreak,
		Day:       env.OccurredAt.UTC().Format("2006-01-02"),
		EventID:   env.EventID,
		Source:    HandlerTracking,
	}}, nil
}

// IdentityHandler merges subject trait updates from identify and signup
// events. Semantics are overwrite-by-key: last write per trait wins.
type IdentityHandler struct{}

// NewIdentityHandler creates the identity handler.
func NewIdentityHandler() *IdentityHandler {
	return &IdentityHandler{}
}

// Name implements Handler.
func (h *IdentityHandler) Name() string { return HandlerIdentity }

// Handles implements Handler.
func (h *IdentityHandler) Handles(_ context.Context, env *models.Envelope) bool {
	return env.Type == models.EventTypeIdentify || env.Type == models.EventTypeSignup
}

// Process implements Handler. Only string-valued properties become
// traits; everything else in the property map is ignored.
func (h *IdentityHandler) Process(_ context.Context, env *models.Envelope, _ *models.SubjectState) ([]models.EffectInstruction, error) {
	var out []models.EffectInstruction
	for _, key := range sortedKeys(env.Properties) {
		value, ok := env.Properties[key].(string)
		if !ok {
			continue
		}
		out = append(out, models.EffectInstruction{
			ProjectID:  env.ProjectID,
			SubjectID:  env.SubjectID,
			Kind:       models.EffectTraitSet,
			Trait:      key,
			TraitValue: value,
			EventID:    env.EventID,
			Source:     HandlerIdentity,
		})
	}
	return out, nil
}

// DefaultHandler is the no-op terminal handler for envelopes matched by
// nothing else. It exists so every envelope reaches a terminal
// processing record state even when no business logic claims it.
type DefaultHandler struct{}

// NewDefaultHandler creates the default handler.
func NewDefaultHandler() *DefaultHandler {
	return &DefaultHandler{}
}

// Name implements Handler.
func (h *DefaultHandler) Name() string { return HandlerDefault }

// Handles implements Handler. Always false: the registry routes to the
// default handler explicitly when no other handler matched.
func (h *DefaultHandler) Handles(_ context.Context, _ *models.Envelope) bool {
	return false
}

// Process implements Handler.
func (h *DefaultHandler) Process(_ context.Context, _ *models.Envelope, _ *models.SubjectState) ([]models.EffectInstruction, error) {
	return nil, nil
}

// sortedKeys returns map keys in ascending order so instruction output
// is deterministic across runs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
