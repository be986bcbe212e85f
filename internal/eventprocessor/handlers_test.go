// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/perkforge/perkforge/internal/commission"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/progression"
	"github.com/perkforge/perkforge/internal/rules"
)

// fixedRuleSource serves a fixed rule set, optionally failing.
type fixedRuleSource struct {
	rules []models.Rule
	err   error
}

func (s *fixedRuleSource) ListActiveRules(_ context.Context, _ string) ([]models.Rule, error) {
	return s.rules, s.err
}

// fixedQuestSource serves a fixed quest set, optionally failing.
type fixedQuestSource struct {
	quests []models.QuestDefinition
	err    error
}

func (s *fixedQuestSource) ListActiveQuests(_ context.Context, _ string) ([]models.QuestDefinition, error) {
	return s.quests, s.err
}

func testEnvelope(eventType string) *models.Envelope {
	env := models.NewEnvelope("acme", "user-1", eventType)
	env.EventID = "evt-" + eventType
	env.OccurredAt = time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)
	return env
}

func percentPointsRule(id string, percent float64) models.Rule {
	return models.Rule{
		ID:         id,
		ProjectID:  "acme",
		Name:       "points on purchase",
		Version:    1,
		Active:     true,
		EventTypes: []string{models.EventTypePurchase},
		Predicate:  models.Predicate{Kind: models.PredExists, Field: "amount"},
		Effects: []models.EffectTemplate{
			{Kind: models.EffectPoints, Percent: percent, Property: "amount"},
		},
	}
}

func TestTrackingHandler(t *testing.T) {
	h := NewTrackingHandler()

	env := testEnvelope(models.EventTypeTrack)
	if !h.Handles(context.Background(), env) {
		t.Fatal("tracking handler rejected track event")
	}
	if h.Handles(context.Background(), testEnvelope(models.EventTypePurchase)) {
		t.Error("tracking handler claimed purchase event")
	}

	out, err := h.Process(context.Background(), env, models.NewSubjectState("acme", "user-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Process() returned %d instructions, want 1", len(out))
	}
	if out[0].Kind != models.EffectStreak {
		t.Errorf("kind = %v, want streak", out[0].Kind)
	}
	if out[0].Day != "2026-02-10" {
		t.Errorf("day = %q, want 2026-02-10", out[0].Day)
	}
	if out[0].Source != HandlerTracking {
		t.Errorf("source = %q, want %q", out[0].Source, HandlerTracking)
	}
}

func TestIdentityHandler(t *testing.T) {
	h := NewIdentityHandler()

	if !h.Handles(context.Background(), testEnvelope(models.EventTypeIdentify)) {
		t.Error("identity handler rejected identify event")
	}
	if !h.Handles(context.Background(), testEnvelope(models.EventTypeSignup)) {
		t.Error("identity handler rejected signup event")
	}
	if h.Handles(context.Background(), testEnvelope(models.EventTypeTrack)) {
		t.Error("identity handler claimed track event")
	}

	env := testEnvelope(models.EventTypeIdentify)
	env.Properties = map[string]any{
		"plan":    "premium",
		"email":   "u@example.com",
		"retries": float64(3), // non-string, ignored
	}

	out, err := h.Process(context.Background(), env, models.NewSubjectState("acme", "user-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Process() returned %d instructions, want 2", len(out))
	}

	// Keys come out sorted for determinism.
	if out[0].Trait != "email" || out[0].TraitValue != "u@example.com" {
		t.Errorf("instruction 0 = %q=%q, want email", out[0].Trait, out[0].TraitValue)
	}
	if out[1].Trait != "plan" || out[1].TraitValue != "premium" {
		t.Errorf("instruction 1 = %q=%q, want plan", out[1].Trait, out[1].TraitValue)
	}
	for _, inst := range out {
		if inst.Kind != models.EffectTraitSet {
			t.Errorf("kind = %v, want trait_set", inst.Kind)
		}
	}
}

func TestPurchaseHandler_ClientProvenanceRejected(t *testing.T) {
	h := NewPurchaseHandler(commission.NewCalculator(0.05), rules.NewEngine(), &fixedRuleSource{})

	env := testEnvelope(models.EventTypePurchase)
	env.Provenance = models.ProvenanceClient
	env.Properties = map[string]any{"amount": float64(10000)}

	_, err := h.Process(context.Background(), env, models.NewSubjectState("acme", "user-1"))
	if !IsPermanentError(err) {
		t.Fatalf("Process() error = %v, want permanent provenance rejection", err)
	}
}

func TestPurchaseHandler_MissingAmount(t *testing.T) {
	h := NewPurchaseHandler(commission.NewCalculator(0.05), rules.NewEngine(), &fixedRuleSource{})

	tests := []struct {
		name  string
		props map[string]any
	}{
		{"no amount", nil},
		{"zero amount", map[string]any{"amount": float64(0)}},
		{"negative amount", map[string]any{"amount": float64(-500)}},
		{"non-numeric amount", map[string]any{"amount": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnvelope(models.EventTypePurchase)
			env.Properties = tt.props

			_, err := h.Process(context.Background(), env, models.NewSubjectState("acme", "user-1"))
			if !IsPermanentError(err) {
				t.Errorf("Process() error = %v, want permanent", err)
			}
		})
	}
}

func TestPurchaseHandler_CommissionAndRulePoints(t *testing.T) {
	ruleSource := &fixedRuleSource{rules: []models.Rule{percentPointsRule("r1", 10)}}
	h := NewPurchaseHandler(commission.NewCalculator(0.05), rules.NewEngine(), ruleSource)

	env := testEnvelope(models.EventTypePurchase)
	env.Properties = map[string]any{
		"amount":       float64(10000),
		"affiliate_id": "aff-7",
	}

	out, err := h.Process(context.Background(), env, models.NewSubjectState("acme", "user-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Process() returned %d instructions, want commission + points", len(out))
	}

	if out[0].Kind != models.EffectCommission {
		t.Fatalf("instruction 0 kind = %v, want commission", out[0].Kind)
	}
	if out[0].Amount != 500 {
		t.Errorf("commission amount = %d, want 500 (5%% of 10000)", out[0].Amount)
	}
	if out[0].AffiliateID != "aff-7" {
		t.Errorf("affiliate = %q, want aff-7", out[0].AffiliateID)
	}
	if out[0].Source != HandlerPurchase {
		t.Errorf("commission source = %q, want %q", out[0].Source, HandlerPurchase)
	}

	if out[1].Kind != models.EffectPoints {
		t.Fatalf("instruction 1 kind = %v, want points", out[1].Kind)
	}
	if out[1].Points != 1000 {
		t.Errorf("points = %d, want 1000 (10%% of 10000)", out[1].Points)
	}
	if out[1].Source != "rule:r1" {
		t.Errorf("points source = %q, want rule:r1", out[1].Source)
	}
}

func TestPurchaseHandler_NoAffiliateNoCommission(t *testing.T) {
	h := NewPurchaseHandler(commission.NewCalculator(0.05), rules.NewEngine(), &fixedRuleSource{})

	env := testEnvelope(models.EventTypePurchase)
	env.Properties = map[string]any{"amount": float64(10000)}

	out, err := h.Process(context.Background(), env, models.NewSubjectState("acme", "user-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Process() returned %d instructions, want none without affiliate or rules", len(out))
	}
}

func TestPurchaseHandler_RuleSourceFailureIsRetryable(t *testing.T) {
	ruleSource := &fixedRuleSource{err: errors.New("badger closed")}
	h := NewPurchaseHandler(commission.NewCalculator(0.05), rules.NewEngine(), ruleSource)

	env := testEnvelope(models.EventTypePurchase)
	env.Properties = map[string]any{"amount": float64(100)}

	_, err := h.Process(context.Background(), env, models.NewSubjectState("acme", "user-1"))
	if !IsRetryableError(err) {
		t.Errorf("Process() error = %v, want retryable", err)
	}
}

func TestProgressionHandler(t *testing.T) {
	h := NewProgressionHandler(progression.DefaultLadder())

	state := models.NewSubjectState("acme", "user-1")
	state.Tier = 1
	state.LifetimePoints = 5000

	out, err := h.Process(context.Background(), testEnvelope(models.EventTypeTrack), state)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Process() returned %d instructions, want 1", len(out))
	}
	if out[0].Kind != models.EffectTier || out[0].Tier != 2 {
		t.Errorf("instruction = %v tier %d, want tier 2", out[0].Kind, out[0].Tier)
	}
}

func TestProgressionHandler_NoChangeNoInstruction(t *testing.T) {
	h := NewProgressionHandler(progression.DefaultLadder())

	state := models.NewSubjectState("acme", "user-1")
	state.Tier = 2
	state.LifetimePoints = 5000 // Exactly tier 2, no crossing.

	out, err := h.Process(context.Background(), testEnvelope(models.EventTypePurchase), state)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Process() returned %d instructions, want none", len(out))
	}
}

func threeStepQuest() models.QuestDefinition {
	return models.QuestDefinition{
		ID:        "q1",
		ProjectID: "acme",
		Name:      "onboarding",
		Active:    true,
		Steps: []models.QuestStep{
			{Action: models.EventTypeSignup},
			{Action: models.EventTypePurchase},
			{Action: models.EventTypeTrack},
		},
		RewardPoints: 250,
		RewardBadge:  "onboarded",
	}
}

func TestQuestHandler_AdvanceAndComplete(t *testing.T) {
	h := NewQuestHandler(&fixedQuestSource{quests: []models.QuestDefinition{threeStepQuest()}})
	ctx := context.Background()

	if !h.Handles(ctx, testEnvelope(models.EventTypeSignup)) {
		t.Fatal("quest handler rejected qualifying action")
	}
	if h.Handles(ctx, testEnvelope(models.EventTypeIdentify)) {
		t.Error("quest handler claimed non-qualifying action")
	}

	// Mid-quest advance.
	state := models.NewSubjectState("acme", "user-1")
	state.Quests["q1"] = &models.QuestProgress{Step: 1}

	out, err := h.Process(ctx, testEnvelope(models.EventTypePurchase), state)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 1 || out[0].Kind != models.EffectQuestAdvance {
		t.Fatalf("mid-quest: got %d instructions %v, want one advance", len(out), out)
	}

	// Final step: advance + complete + reward points + reward badge.
	state.Quests["q1"].Step = 2
	out, err = h.Process(ctx, testEnvelope(models.EventTypeTrack), state)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("final step: got %d instructions, want 4", len(out))
	}
	wantKinds := []models.EffectKind{
		models.EffectQuestAdvance,
		models.EffectQuestComplete,
		models.EffectPoints,
		models.EffectBadge,
	}
	for i, kind := range wantKinds {
		if out[i].Kind != kind {
			t.Errorf("instruction %d kind = %v, want %v", i, out[i].Kind, kind)
		}
	}
	if out[2].Points != 250 {
		t.Errorf("reward points = %d, want 250", out[2].Points)
	}
	if out[3].Badge != "onboarded" {
		t.Errorf("reward badge = %q, want onboarded", out[3].Badge)
	}
}

func TestQuestHandler_SkipsWrongStepAndCompleted(t *testing.T) {
	h := NewQuestHandler(&fixedQuestSource{quests: []models.QuestDefinition{threeStepQuest()}})
	ctx := context.Background()

	// Subject is at step 0 (needs signup); a purchase does not advance.
	state := models.NewSubjectState("acme", "user-1")
	out, err := h.Process(ctx, testEnvelope(models.EventTypePurchase), state)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("out-of-order action produced %d instructions, want none", len(out))
	}

	// Completed quests never advance again.
	state.Quests["q1"] = &models.QuestProgress{Step: 3, Completed: true}
	out, err = h.Process(ctx, testEnvelope(models.EventTypeSignup), state)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("completed quest produced %d instructions, want none", len(out))
	}
}

func TestQuestHandler_SourceFailure(t *testing.T) {
	h := NewQuestHandler(&fixedQuestSource{err: errors.New("badger closed")})
	ctx := context.Background()

	// A failed capability check claims the envelope so the failure
	// surfaces through Process as retryable instead of ending the
	// dispatch as a silent success.
	if !h.Handles(ctx, testEnvelope(models.EventTypeTrack)) {
		t.Error("Handles() = false when quest source is down, envelope not claimed for retry")
	}

	_, err := h.Process(ctx, testEnvelope(models.EventTypeTrack), models.NewSubjectState("acme", "user-1"))
	if !IsRetryableError(err) {
		t.Errorf("Process() error = %v, want retryable", err)
	}
}

func TestRulesHandler_ClaimedTypesExcluded(t *testing.T) {
	ruleSource := &fixedRuleSource{rules: []models.Rule{{
		ID:        "r1",
		ProjectID: "acme",
		Active:    true,
		Predicate: models.Predicate{Kind: models.PredExists, Field: "level"},
		Effects:   []models.EffectTemplate{{Kind: models.EffectBadge, Badge: "leveled"}},
	}}}
	claimed := []string{models.EventTypePurchase, models.EventTypeIdentify, models.EventTypeSignup}
	h := NewRulesHandler(rules.NewEngine(), ruleSource, claimed)
	ctx := context.Background()

	// Purchase is owned by the purchase handler even though the rule's
	// empty type filter would admit it.
	if h.Handles(ctx, testEnvelope(models.EventTypePurchase)) {
		t.Error("rules handler claimed purchase event")
	}

	env := testEnvelope("level_up")
	env.Properties = map[string]any{"level": float64(3)}
	if !h.Handles(ctx, env) {
		t.Fatal("rules handler rejected matching custom event")
	}

	out, err := h.Process(ctx, env, models.NewSubjectState("acme", "user-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 1 || out[0].Kind != models.EffectBadge || out[0].Badge != "leveled" {
		t.Fatalf("Process() = %v, want one badge instruction", out)
	}
	if out[0].Source != "rule:r1" {
		t.Errorf("source = %q, want rule:r1", out[0].Source)
	}
}

func TestRulesHandler_NoMatchingRules(t *testing.T) {
	h := NewRulesHandler(rules.NewEngine(), &fixedRuleSource{}, nil)

	if h.Handles(context.Background(), testEnvelope("custom_event")) {
		t.Error("rules handler claimed event with no active rules")
	}
}

func TestRulesHandler_SourceFailure(t *testing.T) {
	h := NewRulesHandler(rules.NewEngine(), &fixedRuleSource{err: errors.New("badger closed")}, nil)
	ctx := context.Background()

	// A failed capability check claims the envelope so the failure
	// surfaces through Process as retryable instead of ending the
	// dispatch as a silent success.
	if !h.Handles(ctx, testEnvelope("custom_event")) {
		t.Error("Handles() = false when rule source is down, envelope not claimed for retry")
	}

	_, err := h.Process(ctx, testEnvelope("custom_event"), models.NewSubjectState("acme", "user-1"))
	if !IsRetryableError(err) {
		t.Errorf("Process() error = %v, want retryable", err)
	}
}

func TestDefaultHandler(t *testing.T) {
	h := NewDefaultHandler()

	if h.Handles(context.Background(), testEnvelope(models.EventTypeTrack)) {
		t.Error("default handler claims nothing; registry routes to it explicitly")
	}

	out, err := h.Process(context.Background(), testEnvelope("anything"), models.NewSubjectState("acme", "user-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Process() returned %d instructions, want none", len(out))
	}
}
