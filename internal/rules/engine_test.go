// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package rules

import (
	"reflect"
	"testing"
	"time"

	"github.com/perkforge/perkforge/internal/models"
)

func purchaseEnvelope(amount float64) *models.Envelope {
	return &models.Envelope{
		EventID:    "e1",
		ProjectID:  "acme",
		SubjectID:  "u1",
		Type:       "purchase",
		Properties: map[string]any{"amount": amount, "affiliate_id": "aff-1"},
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Provenance: models.ProvenanceServer,
	}
}

func TestEngine_PercentPointsScenario(t *testing.T) {
	// Active rule "10% of amount as points" against a purchase of 10000
	// must yield a grant of exactly 1000 points.
	engine := NewEngine()
	env := purchaseEnvelope(10000)
	state := models.NewSubjectState("acme", "u1")

	ruleSet := []models.Rule{{
		ID:         "r-points",
		ProjectID:  "acme",
		Active:     true,
		Priority:   1,
		EventTypes: []string{"purchase"},
		Predicate:  models.Predicate{Kind: models.PredExists, Field: "amount"},
		Effects: []models.EffectTemplate{
			{Kind: models.EffectPoints, Percent: 10, Property: "amount"},
		},
	}}

	got := engine.Evaluate(env, state, ruleSet)
	if len(got) != 1 {
		t.Fatalf("Expected 1 instruction, got %d", len(got))
	}
	if got[0].Kind != models.EffectPoints || got[0].Points != 1000 {
		t.Errorf("Expected 1000 points, got %+v", got[0])
	}
	if got[0].EventID != "e1" {
		t.Errorf("Instruction must carry originating event id, got %q", got[0].EventID)
	}
}

func TestEngine_CommissionTemplate(t *testing.T) {
	engine := NewEngine()
	env := purchaseEnvelope(10000)
	state := models.NewSubjectState("acme", "u1")

	ruleSet := []models.Rule{{
		ID:        "r-comm",
		ProjectID: "acme",
		Active:    true,
		Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
		Effects: []models.EffectTemplate{
			{Kind: models.EffectCommission, Rate: 0.05},
		},
	}}

	got := engine.Evaluate(env, state, ruleSet)
	if len(got) != 1 {
		t.Fatalf("Expected 1 instruction, got %d", len(got))
	}
	if got[0].Amount != 500 {
		t.Errorf("Expected commission 500, got %d", got[0].Amount)
	}
	if got[0].AffiliateID != "aff-1" {
		t.Errorf("Expected affiliate carried from event, got %q", got[0].AffiliateID)
	}
}

func TestEngine_PriorityOrdering(t *testing.T) {
	// Two matching rules with priorities 1 and 2: output preserves
	// priority order regardless of storage order.
	engine := NewEngine()
	env := purchaseEnvelope(100)
	state := models.NewSubjectState("acme", "u1")

	high := models.Rule{
		ID: "r-b", ProjectID: "acme", Active: true, Priority: 2,
		Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
		Effects:   []models.EffectTemplate{{Kind: models.EffectBadge, Badge: "second"}},
	}
	low := models.Rule{
		ID: "r-a", ProjectID: "acme", Active: true, Priority: 1,
		Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
		Effects:   []models.EffectTemplate{{Kind: models.EffectBadge, Badge: "first"}},
	}

	for _, order := range [][]models.Rule{{high, low}, {low, high}} {
		got := engine.Evaluate(env, state, order)
		if len(got) != 2 {
			t.Fatalf("Expected 2 instructions, got %d", len(got))
		}
		if got[0].Badge != "first" || got[1].Badge != "second" {
			t.Errorf("Expected priority order [first second], got [%s %s]", got[0].Badge, got[1].Badge)
		}
	}
}

func TestEngine_TieBreakByRuleID(t *testing.T) {
	engine := NewEngine()
	env := purchaseEnvelope(100)
	state := models.NewSubjectState("acme", "u1")

	a := models.Rule{
		ID: "r-a", ProjectID: "acme", Active: true, Priority: 5,
		Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
		Effects:   []models.EffectTemplate{{Kind: models.EffectBadge, Badge: "a"}},
	}
	b := models.Rule{
		ID: "r-b", ProjectID: "acme", Active: true, Priority: 5,
		Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
		Effects:   []models.EffectTemplate{{Kind: models.EffectBadge, Badge: "b"}},
	}

	got := engine.Evaluate(env, state, []models.Rule{b, a})
	if got[0].Badge != "a" || got[1].Badge != "b" {
		t.Errorf("Equal priority must tie-break by rule id, got [%s %s]", got[0].Badge, got[1].Badge)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	engine := NewEngine()
	env := purchaseEnvelope(12345)
	state := models.NewSubjectState("acme", "u1")
	state.Points = 2500
	state.Tier = 1

	ruleSet := []models.Rule{
		{
			ID: "r-1", ProjectID: "acme", Active: true, Priority: 3,
			Predicate: models.Predicate{Kind: models.PredGte, Field: "amount", Value: 1000},
			Effects: []models.EffectTemplate{
				{Kind: models.EffectPoints, Percent: 7.5, Property: "amount"},
				{Kind: models.EffectBadge, Badge: "big-spender"},
			},
		},
		{
			ID: "r-2", ProjectID: "acme", Active: true, Priority: 1,
			Predicate: models.Predicate{Kind: models.PredMinPoints, Value: 1000},
			Effects:   []models.EffectTemplate{{Kind: models.EffectPoints, Points: 50}},
		},
	}

	first := engine.Evaluate(env, state, ruleSet)
	for i := 0; i < 50; i++ {
		got := engine.Evaluate(env, state, ruleSet)
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("Evaluation not deterministic: run %d differs", i)
		}
	}
}

func TestEngine_InactiveAndNonMatchingSkipped(t *testing.T) {
	engine := NewEngine()
	env := purchaseEnvelope(100)
	state := models.NewSubjectState("acme", "u1")

	ruleSet := []models.Rule{
		{
			ID: "inactive", ProjectID: "acme", Active: false,
			Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
			Effects:   []models.EffectTemplate{{Kind: models.EffectPoints, Points: 10}},
		},
		{
			ID: "wrong-type", ProjectID: "acme", Active: true, EventTypes: []string{"signup"},
			Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
			Effects:   []models.EffectTemplate{{Kind: models.EffectPoints, Points: 10}},
		},
		{
			ID: "no-match", ProjectID: "acme", Active: true,
			Predicate: models.Predicate{Kind: models.PredGt, Field: "amount", Value: 1000},
			Effects:   []models.EffectTemplate{{Kind: models.EffectPoints, Points: 10}},
		},
	}

	if got := engine.Evaluate(env, state, ruleSet); len(got) != 0 {
		t.Errorf("Expected no instructions, got %d", len(got))
	}
}

func TestEngine_MalformedRulesSkippedNotFatal(t *testing.T) {
	engine := NewEngine()
	env := purchaseEnvelope(100)
	state := models.NewSubjectState("acme", "u1")

	ruleSet := []models.Rule{
		{
			ID: "bad-predicate", ProjectID: "acme", Active: true, Priority: 1,
			Predicate: models.Predicate{Kind: "frobnicate"},
			Effects:   []models.EffectTemplate{{Kind: models.EffectPoints, Points: 10}},
		},
		{
			ID: "bad-template", ProjectID: "acme", Active: true, Priority: 2,
			Predicate: models.Predicate{Kind: models.PredExists, Field: "amount"},
			Effects: []models.EffectTemplate{
				{Kind: "teleport"},
				{Kind: models.EffectPoints, Points: 25},
			},
		},
	}

	got := engine.Evaluate(env, state, ruleSet)
	if len(got) != 1 {
		t.Fatalf("Expected malformed entries skipped with 1 surviving instruction, got %d", len(got))
	}
	if got[0].Points != 25 {
		t.Errorf("Expected surviving grant of 25 points, got %+v", got[0])
	}
}

func TestPredicate_Kinds(t *testing.T) {
	env := &models.Envelope{
		EventID:   "e2",
		ProjectID: "acme",
		SubjectID: "u1",
		Type:      "track",
		Properties: map[string]any{
			"plan":   "pro",
			"amount": float64(250),
		},
	}
	state := models.NewSubjectState("acme", "u1")
	state.Points = 1500
	state.Tier = 2
	state.Badges["early-adopter"] = time.Now()

	tests := []struct {
		name string
		pred models.Predicate
		want bool
	}{
		{"eq match", models.Predicate{Kind: models.PredEq, Field: "plan", Value: "pro"}, true},
		{"eq mismatch", models.Predicate{Kind: models.PredEq, Field: "plan", Value: "free"}, false},
		{"eq numeric coercion", models.Predicate{Kind: models.PredEq, Field: "amount", Value: 250}, true},
		{"neq", models.Predicate{Kind: models.PredNeq, Field: "plan", Value: "free"}, true},
		{"gt", models.Predicate{Kind: models.PredGt, Field: "amount", Value: 200}, true},
		{"lte", models.Predicate{Kind: models.PredLte, Field: "amount", Value: 249}, false},
		{"in", models.Predicate{Kind: models.PredIn, Field: "plan", Values: []any{"pro", "team"}}, true},
		{"in miss", models.Predicate{Kind: models.PredIn, Field: "plan", Values: []any{"free"}}, false},
		{"exists", models.Predicate{Kind: models.PredExists, Field: "plan"}, true},
		{"exists miss", models.Predicate{Kind: models.PredExists, Field: "nope"}, false},
		{"min_points", models.Predicate{Kind: models.PredMinPoints, Value: 1000}, true},
		{"min_tier miss", models.Predicate{Kind: models.PredMinTier, Value: 3}, false},
		{"has_badge", models.Predicate{Kind: models.PredHasBadge, Value: "early-adopter"}, true},
		{
			"and",
			models.Predicate{Kind: models.PredAnd, Children: []models.Predicate{
				{Kind: models.PredEq, Field: "plan", Value: "pro"},
				{Kind: models.PredGt, Field: "amount", Value: 100},
			}},
			true,
		},
		{
			"or short circuit",
			models.Predicate{Kind: models.PredOr, Children: []models.Predicate{
				{Kind: models.PredEq, Field: "plan", Value: "free"},
				{Kind: models.PredMinTier, Value: 1},
			}},
			true,
		},
		{
			"not",
			models.Predicate{Kind: models.PredNot, Children: []models.Predicate{
				{Kind: models.PredEq, Field: "plan", Value: "free"},
			}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalPredicate(&tt.pred, env, state)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
