// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"

	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/progression"
)

// ProgressionHandler evaluates tier thresholds against the subject's
// lifetime point total and emits a tier-change instruction when a
// threshold was crossed. Tiers never regress: the executor applies tier
// instructions as a floor, and the ladder itself only advances.
//
// Points granted within the same dispatch are not visible here (the
// handler sees the pre-dispatch snapshot); the executor additionally
// advances tier inline after every point grant, so crossings from the
// current event are not delayed to the next one.
type ProgressionHandler struct {
	ladder *progression.Ladder
}

// NewProgressionHandler creates the progression handler.
func NewProgressionHandler(ladder *progression.Ladder) *ProgressionHandler {
	return &ProgressionHandler{ladder: ladder}
}

// Name implements Handler.
func (h *ProgressionHandler) Name() string { return HandlerProgression }

// Handles implements Handler. The handler claims the types that can
// carry point-relevant rule effects.
func (h *ProgressionHandler) Handles(_ context.Context, env *models.Envelope) bool {
	switch env.Type {
	case models.EventTypePurchase, models.EventTypeSignup, models.EventTypeTrack:
		return true
	}
	return false
}

// Process implements Handler.
func (h *ProgressionHandler) Process(_ context.Context, env *models.Envelope, state *models.SubjectState) ([]models.EffectInstruction, error) {
	tier := h.ladder.Advance(state.Tier, state.LifetimePoints)
	if tier <= state.Tier {
		return nil, nil
	}

	return []models.EffectInstruction{{
		ProjectID: env.ProjectID,
		SubjectID: env.SubjectID,
		Kind:      models.EffectTier,
		Tier:      tier,
		EventID:   env.EventID,
		Source:    HandlerProgression,
	}}, nil
}
