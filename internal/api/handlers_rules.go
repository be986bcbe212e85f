// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/store"
)

// PutRuleRequest is the POST /projects/{projectID}/rules body. The
// store assigns Version and timestamps; clients never set them.
type PutRuleRequest struct {
	ID         string                  `json:"id" validate:"required,max=128"`
	Name       string                  `json:"name" validate:"required,max=256"`
	Active     bool                    `json:"active"`
	Priority   int                     `json:"priority"`
	EventTypes []string                `json:"event_types,omitempty"`
	Predicate  models.Predicate        `json:"predicate"`
	Effects    []models.EffectTemplate `json:"effects" validate:"required,min=1"`
}

// ListRules returns every rule for a project. Pass ?active=true to
// restrict to rules the engine currently evaluates.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var (
		rules []models.Rule
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		rules, err = h.store.ListActiveRules(r.Context(), projectID)
	} else {
		rules, err = h.store.ListRules(r.Context(), projectID)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list rules", err)
		return
	}

	respondSuccess(w, http.StatusOK, rules, len(rules))
}

// GetRule returns a single rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	ruleID := chi.URLParam(r, "ruleID")

	rule, err := h.store.GetRule(r.Context(), projectID, ruleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to read rule", err)
		return
	}

	respondSuccess(w, http.StatusOK, rule, 0)
}

// PutRule creates or replaces a rule. The stored Version increments on
// every write so operators can correlate subject state with the rule
// revision that produced it.
func (h *Handler) PutRule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req PutRuleRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	rule := &models.Rule{
		ID:         req.ID,
		ProjectID:  projectID,
		Name:       req.Name,
		Active:     req.Active,
		Priority:   req.Priority,
		EventTypes: req.EventTypes,
		Predicate:  req.Predicate,
		Effects:    req.Effects,
	}
	if err := h.store.PutRule(r.Context(), rule); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to store rule", err)
		return
	}

	respondSuccess(w, http.StatusOK, rule, 0)
}

// DeactivateRule marks a rule inactive. Definitions are never deleted
// so processed events stay explainable.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	ruleID := chi.URLParam(r, "ruleID")

	if err := h.store.DeactivateRule(r.Context(), projectID, ruleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "rule not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to deactivate rule", err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"id": ruleID, "state": "inactive"}, 0)
}

// PutQuestRequest is the POST /projects/{projectID}/quests body.
type PutQuestRequest struct {
	ID           string             `json:"id" validate:"required,max=128"`
	Name         string             `json:"name" validate:"required,max=256"`
	Active       bool               `json:"active"`
	Steps        []models.QuestStep `json:"steps" validate:"required,min=1"`
	RewardPoints int64              `json:"reward_points,omitempty" validate:"omitempty,min=0"`
	RewardBadge  string             `json:"reward_badge,omitempty" validate:"omitempty,max=128"`
}

// ListQuests returns the active quest definitions for a project.
func (h *Handler) ListQuests(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	quests, err := h.store.ListActiveQuests(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to list quests", err)
		return
	}

	respondSuccess(w, http.StatusOK, quests, len(quests))
}

// PutQuest creates or replaces a quest definition.
func (h *Handler) PutQuest(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req PutQuestRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	quest := &models.QuestDefinition{
		ID:           req.ID,
		ProjectID:    projectID,
		Name:         req.Name,
		Active:       req.Active,
		Steps:        req.Steps,
		RewardPoints: req.RewardPoints,
		RewardBadge:  req.RewardBadge,
	}
	if err := h.store.PutQuest(r.Context(), quest); err != nil {
		respondError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to store quest", err)
		return
	}

	respondSuccess(w, http.StatusOK, quest, 0)
}
