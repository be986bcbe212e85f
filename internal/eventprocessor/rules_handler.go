// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"

	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/rules"
)

// RulesHandler is the catch-all path for event types that no
// specialized handler claims but that match at least one active tenant
// rule. Purchase events never reach it: the purchase handler forwards
// to the rule engine itself, and double evaluation would be redundant
// (though still harmless, since rule instructions carry a per-rule
// source and the executor's applied markers deduplicate by source).
type RulesHandler struct {
	engine     *rules.Engine
	ruleSource RuleSource

	// claimed holds the event types owned by specialized handlers.
	claimed map[string]bool
}

// NewRulesHandler creates the rule-driven generic handler. claimedTypes
// lists the event types specialized handlers own.
func NewRulesHandler(engine *rules.Engine, ruleSource RuleSource, claimedTypes []string) *RulesHandler {
	claimed := make(map[string]bool, len(claimedTypes))
	for _, t := range claimedTypes {
		claimed[t] = true
	}
	return &RulesHandler{
		engine:     engine,
		ruleSource: ruleSource,
		claimed:    claimed,
	}
}

// Name implements Handler.
func (h *RulesHandler) Name() string { return HandlerRules }

// Handles implements Handler.
func (h *RulesHandler) Handles(ctx context.Context, env *models.Envelope) bool {
	if h.claimed[env.Type] {
		return false
	}

	// A capability-check error claims the envelope so Process can
	// surface the failure as retryable. Declining would finish the
	// dispatch as processed and silently drop any matching rule effects.
	ruleSet, err := h.ruleSource.ListActiveRules(ctx, env.ProjectID)
	if err != nil {
		logging.Warn().
			Str("project_id", env.ProjectID).
			Err(err).
			Msg("Rule capability check failed, claiming envelope for retry")
		return true
	}
	for ri := range ruleSet {
		if ruleSet[ri].AppliesTo(env.Type) {
			return true
		}
	}
	return false
}

// Process implements Handler.
func (h *RulesHandler) Process(ctx context.Context, env *models.Envelope, state *models.SubjectState) ([]models.EffectInstruction, error) {
	ruleSet, err := h.ruleSource.ListActiveRules(ctx, env.ProjectID)
	if err != nil {
		return nil, NewRetryableError("store: list active rules", err)
	}
	return h.engine.Evaluate(env, state, ruleSet), nil
}
