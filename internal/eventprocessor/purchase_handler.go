// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"errors"

	"github.com/perkforge/perkforge/internal/commission"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/rules"
)

// RuleSource provides the active rule set for a tenant. The store
// satisfies this; tests substitute fixed rule sets.
type RuleSource interface {
	ListActiveRules(ctx context.Context, projectID string) ([]models.Rule, error)
}

// PurchaseHandler owns purchase semantics: provenance validation,
// commission bookkeeping, and rule-driven point/tier effects.
//
// Provenance is enforced here as defense in depth. Financial effects
// must originate from trusted server-issued events; a purchase with
// client provenance is rejected permanently, never retried.
type PurchaseHandler struct {
	calculator *commission.Calculator
	engine     *rules.Engine
	ruleSource RuleSource
}

// NewPurchaseHandler creates the purchase handler.
func NewPurchaseHandler(calc *commission.Calculator, engine *rules.Engine, ruleSource RuleSource) *PurchaseHandler {
	return &PurchaseHandler{
		calculator: calc,
		engine:     engine,
		ruleSource: ruleSource,
	}
}

// Name implements Handler.
func (h *PurchaseHandler) Name() string { return HandlerPurchase }

// Handles implements Handler.
func (h *PurchaseHandler) Handles(_ context.Context, env *models.Envelope) bool {
	return env.Type == models.EventTypePurchase
}

// Process implements Handler.
func (h *PurchaseHandler) Process(ctx context.Context, env *models.Envelope, state *models.SubjectState) ([]models.EffectInstruction, error) {
	if !env.Trusted() {
		return nil, NewPermanentError("provenance violation: purchase issued by untrusted client", nil)
	}

	amount, ok := env.PropNumber("amount")
	if !ok || amount <= 0 {
		return nil, NewPermanentError("invalid purchase: missing or non-positive amount", nil)
	}

	var out []models.EffectInstruction

	// Commission bookkeeping. No affiliate attached means a zero
	// commission, which produces no instruction.
	affiliateID, _ := env.PropString("affiliate_id")
	rate, _ := env.PropNumber("commission_rate")
	result, err := h.calculator.Calculate(commission.Input{
		Amount:      int64(amount),
		Rate:        rate,
		AffiliateID: affiliateID,
	})
	if err != nil {
		if errors.Is(err, commission.ErrInvalidAmount) || errors.Is(err, commission.ErrInvalidRate) {
			return nil, NewPermanentError("invalid purchase commission input", err)
		}
		return nil, NewRetryableError("commission calculation", err)
	}
	if result.Amount > 0 {
		out = append(out, models.EffectInstruction{
			ProjectID:   env.ProjectID,
			SubjectID:   env.SubjectID,
			Kind:        models.EffectCommission,
			Amount:      result.Amount,
			Rate:        result.Rate,
			AffiliateID: result.AffiliateID,
			EventID:     env.EventID,
			Source:      HandlerPurchase,
		})
	}

	// Point and tier effects come from tenant rules, not fixed logic.
	ruleSet, err := h.ruleSource.ListActiveRules(ctx, env.ProjectID)
	if err != nil {
		return nil, NewRetryableError("store: list active rules", err)
	}
	out = append(out, h.engine.Evaluate(env, state, ruleSet)...)

	return out, nil
}
