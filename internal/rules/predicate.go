// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package rules

import (
	"github.com/perkforge/perkforge/internal/models"
)

// evalPredicate interprets one node of the boolean expression tree.
// Leaf comparisons read event properties or the subject snapshot; an
// unknown kind or a missing required operand is an error, which the
// engine treats as "skip this rule".
func evalPredicate(p *models.Predicate, env *models.Envelope, state *models.SubjectState) (bool, error) {
	switch p.Kind {
	case models.PredAnd:
		if len(p.Children) == 0 {
			return false, &PredicateError{Reason: "and requires children"}
		}
		for i := range p.Children {
			ok, err := evalPredicate(&p.Children[i], env, state)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case models.PredOr:
		if len(p.Children) == 0 {
			return false, &PredicateError{Reason: "or requires children"}
		}
		for i := range p.Children {
			ok, err := evalPredicate(&p.Children[i], env, state)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case models.PredNot:
		if len(p.Children) != 1 {
			return false, &PredicateError{Reason: "not requires exactly one child"}
		}
		ok, err := evalPredicate(&p.Children[0], env, state)
		return !ok, err

	case models.PredEq:
		return compareEqual(p, env)

	case models.PredNeq:
		eq, err := compareEqual(p, env)
		return !eq, err

	case models.PredGt, models.PredGte, models.PredLt, models.PredLte:
		return compareNumeric(p, env)

	case models.PredIn:
		if p.Field == "" || len(p.Values) == 0 {
			return false, &PredicateError{Reason: "in requires field and values"}
		}
		v, ok := env.Properties[p.Field]
		if !ok {
			return false, nil
		}
		for _, candidate := range p.Values {
			if valuesEqual(v, candidate) {
				return true, nil
			}
		}
		return false, nil

	case models.PredExists:
		if p.Field == "" {
			return false, &PredicateError{Reason: "exists requires field"}
		}
		_, ok := env.Properties[p.Field]
		return ok, nil

	case models.PredMinPoints:
		threshold, ok := models.CoerceNumber(p.Value)
		if !ok {
			return false, &PredicateError{Reason: "min_points requires numeric value"}
		}
		return float64(state.Points) >= threshold, nil

	case models.PredMinTier:
		threshold, ok := models.CoerceNumber(p.Value)
		if !ok {
			return false, &PredicateError{Reason: "min_tier requires numeric value"}
		}
		return float64(state.Tier) >= threshold, nil

	case models.PredHasBadge:
		name, ok := p.Value.(string)
		if !ok || name == "" {
			return false, &PredicateError{Reason: "has_badge requires badge name"}
		}
		return state.HasBadge(name), nil

	default:
		return false, &PredicateError{Reason: "unknown kind " + string(p.Kind)}
	}
}

func compareEqual(p *models.Predicate, env *models.Envelope) (bool, error) {
	if p.Field == "" {
		return false, &PredicateError{Reason: "comparison requires field"}
	}
	v, ok := env.Properties[p.Field]
	if !ok {
		return false, nil
	}
	return valuesEqual(v, p.Value), nil
}

func compareNumeric(p *models.Predicate, env *models.Envelope) (bool, error) {
	if p.Field == "" {
		return false, &PredicateError{Reason: "comparison requires field"}
	}
	threshold, ok := models.CoerceNumber(p.Value)
	if !ok {
		return false, &PredicateError{Reason: "range comparison requires numeric value"}
	}
	v, ok := env.PropNumber(p.Field)
	if !ok {
		// Missing or non-numeric property is a non-match, not an error:
		// tenants mix event shapes under one type tag.
		return false, nil
	}

	switch p.Kind {
	case models.PredGt:
		return v > threshold, nil
	case models.PredGte:
		return v >= threshold, nil
	case models.PredLt:
		return v < threshold, nil
	case models.PredLte:
		return v <= threshold, nil
	default:
		return false, &PredicateError{Reason: "not a numeric comparison"}
	}
}

// valuesEqual compares property values with numeric coercion, so an
// envelope decoded from JSON (float64) matches a rule authored with an
// integer literal.
func valuesEqual(a, b any) bool {
	if an, ok := models.CoerceNumber(a); ok {
		if bn, ok := models.CoerceNumber(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}
