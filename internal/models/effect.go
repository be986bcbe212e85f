// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package models

// EffectInstruction is a decided-but-unapplied state change produced by a
// handler or the rule engine. The originating event ID and producing
// source are carried through for idempotency and auditing: the executor
// keys its applied-markers on (event, subject, source).
type EffectInstruction struct {
	ProjectID string     `json:"project_id"`
	SubjectID string     `json:"subject_id"`
	Kind      EffectKind `json:"kind"`

	// Points is the grant magnitude for EffectPoints.
	Points int64 `json:"points,omitempty"`

	// Badge names the badge for EffectBadge.
	Badge string `json:"badge,omitempty"`

	// Tier is the tier floor for EffectTier.
	Tier int `json:"tier,omitempty"`

	// QuestID and Steps drive EffectQuestAdvance / EffectQuestComplete.
	QuestID string `json:"quest_id,omitempty"`
	Steps   int    `json:"steps,omitempty"`

	// Amount and Rate describe EffectCommission, in minor currency units.
	Amount      int64   `json:"amount,omitempty"`
	Rate        float64 `json:"rate,omitempty"`
	AffiliateID string  `json:"affiliate_id,omitempty"`

	// Trait and TraitValue drive EffectTraitSet.
	Trait      string `json:"trait,omitempty"`
	TraitValue string `json:"trait_value,omitempty"`

	// Day is the activity day (YYYY-MM-DD, from the envelope's
	// occurred-at) for EffectStreak.
	Day string `json:"day,omitempty"`

	// EventID is the originating event (idempotency key).
	EventID string `json:"event_id"`

	// Source names the producer: a handler name or "rule:<id>".
	Source string `json:"source"`
}
