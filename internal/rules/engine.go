// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package rules evaluates tenant rule definitions against incoming
// events. Rules are data, not code: predicates are a closed boolean
// expression tree and effects are templates instantiated against the
// concrete event, so evaluation is deterministic and safe to run on
// untrusted tenant configuration.
package rules

import (
	"math"
	"sort"

	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/models"
)

// Engine evaluates rule sets. It is stateless and safe for concurrent
// use; all inputs arrive per call and no wall-clock or random values
// participate in evaluation.
type Engine struct{}

// NewEngine creates a rule engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate filters the rule set to active rules whose type filter and
// predicate match the envelope, orders matches by ascending priority then
// rule ID, and instantiates each rule's effect templates in that order.
//
// Output is byte-identical across runs for identical (envelope, state,
// rules) input. Rules with malformed predicates or templates are skipped
// and logged, never fatal to the batch.
func (e *Engine) Evaluate(env *models.Envelope, state *models.SubjectState, ruleSet []models.Rule) []models.EffectInstruction {
	matched := make([]models.Rule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if !r.Active || !r.AppliesTo(env.Type) {
			continue
		}
		ok, err := evalPredicate(&r.Predicate, env, state)
		if err != nil {
			logging.Warn().
				Str("rule_id", r.ID).
				Str("project_id", r.ProjectID).
				Err(err).
				Msg("Skipping rule with unparsable predicate")
			continue
		}
		if ok {
			matched = append(matched, r)
		}
	}

	// Deterministic tie-break: priority ascending, then rule ID.
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})

	var out []models.EffectInstruction
	for _, r := range matched {
		for ti := range r.Effects {
			inst, err := instantiate(&r.Effects[ti], &r, env)
			if err != nil {
				logging.Warn().
					Str("rule_id", r.ID).
					Str("effect_kind", string(r.Effects[ti].Kind)).
					Err(err).
					Msg("Skipping malformed effect template")
				continue
			}
			out = append(out, inst)
		}
	}
	return out
}

// instantiate resolves one effect template against the concrete event,
// e.g. "award 10% of amount as points" using the event's amount property.
func instantiate(tpl *models.EffectTemplate, r *models.Rule, env *models.Envelope) (models.EffectInstruction, error) {
	inst := models.EffectInstruction{
		ProjectID: env.ProjectID,
		SubjectID: env.SubjectID,
		Kind:      tpl.Kind,
		EventID:   env.EventID,
		Source:    "rule:" + r.ID,
	}

	switch tpl.Kind {
	case models.EffectPoints:
		if tpl.Percent != 0 {
			points, err := percentOf(tpl, env)
			if err != nil {
				return inst, err
			}
			inst.Points = points
		} else {
			if tpl.Points <= 0 {
				return inst, &TemplateError{Reason: "points must be positive"}
			}
			inst.Points = tpl.Points
		}

	case models.EffectBadge:
		if tpl.Badge == "" {
			return inst, &TemplateError{Reason: "badge name required"}
		}
		inst.Badge = tpl.Badge

	case models.EffectTier:
		if tpl.Tier <= 0 {
			return inst, &TemplateError{Reason: "tier must be positive"}
		}
		inst.Tier = tpl.Tier

	case models.EffectCommission:
		if tpl.Rate <= 0 || tpl.Rate > 1 {
			return inst, &TemplateError{Reason: "commission rate must be in (0, 1]"}
		}
		prop := tpl.Property
		if prop == "" {
			prop = "amount"
		}
		amount, ok := env.PropNumber(prop)
		if !ok {
			return inst, &TemplateError{Reason: "missing numeric property " + prop}
		}
		inst.Rate = tpl.Rate
		inst.Amount = roundHalfUp(amount * tpl.Rate)
		if aff, ok := env.PropString("affiliate_id"); ok {
			inst.AffiliateID = aff
		}

	case models.EffectTraitSet:
		if tpl.Trait == "" {
			return inst, &TemplateError{Reason: "trait name required"}
		}
		inst.Trait = tpl.Trait
		inst.TraitValue = tpl.TraitValue

	default:
		return inst, &TemplateError{Reason: "unknown effect kind " + string(tpl.Kind)}
	}

	return inst, nil
}

// percentOf resolves a proportional point grant against a numeric event
// property. Rounding is half-up so output is stable across runs.
func percentOf(tpl *models.EffectTemplate, env *models.Envelope) (int64, error) {
	if tpl.Percent < 0 {
		return 0, &TemplateError{Reason: "percent must be non-negative"}
	}
	prop := tpl.Property
	if prop == "" {
		prop = "amount"
	}
	val, ok := env.PropNumber(prop)
	if !ok {
		return 0, &TemplateError{Reason: "missing numeric property " + prop}
	}
	return roundHalfUp(val * tpl.Percent / 100), nil
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

// TemplateError describes a malformed effect template.
type TemplateError struct {
	Reason string
}

func (e *TemplateError) Error() string {
	return "effect template: " + e.Reason
}

// PredicateError describes an unparsable predicate node.
type PredicateError struct {
	Reason string
}

func (e *PredicateError) Error() string {
	return "predicate: " + e.Reason
}
