// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package models

import "time"

// PredicateKind identifies one node kind in a rule's boolean expression
// tree. The set is closed: rule evaluation stays deterministic and
// data-driven, with no dynamic dispatch.
type PredicateKind string

const (
	// PredAnd is true when every child predicate is true.
	PredAnd PredicateKind = "and"
	// PredOr is true when at least one child predicate is true.
	PredOr PredicateKind = "or"
	// PredNot negates its single child.
	PredNot PredicateKind = "not"
	// PredEq compares an event property for equality.
	PredEq PredicateKind = "eq"
	// PredNeq compares an event property for inequality.
	PredNeq PredicateKind = "neq"
	// PredGt is a numeric greater-than comparison on a property.
	PredGt PredicateKind = "gt"
	// PredGte is a numeric greater-or-equal comparison on a property.
	PredGte PredicateKind = "gte"
	// PredLt is a numeric less-than comparison on a property.
	PredLt PredicateKind = "lt"
	// PredLte is a numeric less-or-equal comparison on a property.
	PredLte PredicateKind = "lte"
	// PredIn is set membership of a property value.
	PredIn PredicateKind = "in"
	// PredExists is true when the property is present.
	PredExists PredicateKind = "exists"
	// PredMinPoints is true when the subject's points balance is >= value.
	PredMinPoints PredicateKind = "min_points"
	// PredMinTier is true when the subject's tier is >= value.
	PredMinTier PredicateKind = "min_tier"
	// PredHasBadge is true when the subject holds the named badge.
	PredHasBadge PredicateKind = "has_badge"
)

// Predicate is one node of a rule's matching expression tree.
// Leaf kinds read either an event property (Field) or the subject
// snapshot; branch kinds combine Children.
type Predicate struct {
	Kind     PredicateKind `json:"kind"`
	Field    string        `json:"field,omitempty"`
	Value    any           `json:"value,omitempty"`
	Values   []any         `json:"values,omitempty"`
	Children []Predicate   `json:"children,omitempty"`
}

// EffectKind identifies the kind of state change an effect template
// produces. Closed set, mirrored by EffectInstruction.
type EffectKind string

const (
	// EffectPoints grants loyalty points (additive).
	EffectPoints EffectKind = "points"
	// EffectBadge unlocks a badge (idempotent set insert).
	EffectBadge EffectKind = "badge"
	// EffectTier raises the subject's tier floor (never regresses).
	EffectTier EffectKind = "tier"
	// EffectCommission records an affiliate commission for a purchase.
	EffectCommission EffectKind = "commission"
	// EffectQuestAdvance advances one step of an active quest.
	EffectQuestAdvance EffectKind = "quest_advance"
	// EffectQuestComplete marks a quest completed.
	EffectQuestComplete EffectKind = "quest_complete"
	// EffectTraitSet overwrites one subject trait (last write wins).
	EffectTraitSet EffectKind = "trait_set"
	// EffectStreak touches the subject's activity streak for the
	// envelope's occurred-at day.
	EffectStreak EffectKind = "streak"
)

// EffectTemplate describes a not-yet-instantiated effect attached to a
// rule. Templates resolve against the concrete event at evaluation time,
// e.g. "award 10% of amount as points" uses Percent + Property.
type EffectTemplate struct {
	Kind EffectKind `json:"kind"`

	// Points is a fixed point grant (EffectPoints without Percent).
	Points int64 `json:"points,omitempty"`

	// Percent and Property resolve a proportional grant against a numeric
	// event property, e.g. Percent=10, Property="amount".
	Percent  float64 `json:"percent,omitempty"`
	Property string  `json:"property,omitempty"`

	// Badge names the badge for EffectBadge.
	Badge string `json:"badge,omitempty"`

	// Tier is the tier floor for EffectTier.
	Tier int `json:"tier,omitempty"`

	// Rate is the commission rate for EffectCommission, as a fraction
	// (0.05 = 5%). Applied to the Property value (default "amount").
	Rate float64 `json:"rate,omitempty"`

	// Trait and TraitValue define EffectTraitSet.
	Trait      string `json:"trait,omitempty"`
	TraitValue string `json:"trait_value,omitempty"`
}

// Rule is a tenant-scoped, versioned rule definition. Only rules with
// Active=true and a matching predicate are considered; ties between
// matching rules break by ascending Priority, then rule ID.
type Rule struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Version   int    `json:"version"`
	Active    bool   `json:"active"`
	Priority  int    `json:"priority"`

	// EventTypes restricts matching to the listed types. Empty means the
	// rule considers every event type (the predicate still applies).
	EventTypes []string `json:"event_types,omitempty"`

	Predicate Predicate        `json:"predicate"`
	Effects   []EffectTemplate `json:"effects"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppliesTo reports whether the rule's event type filter admits the type.
func (r *Rule) AppliesTo(eventType string) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, t := range r.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}
