// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"sort"

	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/models"
)

// QuestSource provides the active quest definitions for a tenant.
type QuestSource interface {
	ListActiveQuests(ctx context.Context, projectID string) ([]models.QuestDefinition, error)
}

// QuestHandler advances the step counter of every active quest whose
// next qualifying action matches the incoming event type. Completing the
// final step emits a completion effect plus the quest's reward grants in
// the same dispatch.
type QuestHandler struct {
	questSource QuestSource
}

// NewQuestHandler creates the quest handler.
func NewQuestHandler(questSource QuestSource) *QuestHandler {
	return &QuestHandler{questSource: questSource}
}

// Name implements Handler.
func (h *QuestHandler) Name() string { return HandlerQuest }

// Handles implements Handler. The handler claims an envelope when any
// active quest for the tenant lists its type as a qualifying action.
// Whether the subject is actually at that step is decided in Process
// against the subject snapshot.
//
// A capability-check error claims the envelope: Process repeats the
// lookup and returns a RetryableError, which keeps the processing
// record pending. Declining here would let the dispatch finish as
// processed and a transient store failure would silently drop the
// quest effects.
func (h *QuestHandler) Handles(ctx context.Context, env *models.Envelope) bool {
	quests, err := h.questSource.ListActiveQuests(ctx, env.ProjectID)
	if err != nil {
		logging.Warn().
			Str("project_id", env.ProjectID).
			Err(err).
			Msg("Quest capability check failed, claiming envelope for retry")
		return true
	}
	for qi := range quests {
		for _, step := range quests[qi].Steps {
			if step.Action == env.Type {
				return true
			}
		}
	}
	return false
}

// Process implements Handler.
func (h *QuestHandler) Process(ctx context.Context, env *models.Envelope, state *models.SubjectState) ([]models.EffectInstruction, error) {
	quests, err := h.questSource.ListActiveQuests(ctx, env.ProjectID)
	if err != nil {
		return nil, NewRetryableError("store: list active quests", err)
	}

	// Quest order is not defined by storage; sort by ID so instruction
	// output is deterministic.
	sort.Slice(quests, func(i, j int) bool { return quests[i].ID < quests[j].ID })

	var out []models.EffectInstruction
	for qi := range quests {
		q := &quests[qi]
		if progress, ok := state.Quests[q.ID]; ok && progress.Completed {
			continue
		}

		step := state.QuestStep(q.ID)
		action, ok := q.NextAction(step)
		if !ok || action != env.Type {
			continue
		}

		out = append(out, models.EffectInstruction{
			ProjectID: env.ProjectID,
			SubjectID: env.SubjectID,
			Kind:      models.EffectQuestAdvance,
			QuestID:   q.ID,
			Steps:     1,
			EventID:   env.EventID,
			Source:    HandlerQuest,
		})

		if !q.FinalStep(step) {
			continue
		}

		out = append(out, models.EffectInstruction{
			ProjectID: env.ProjectID,
			SubjectID: env.SubjectID,
			Kind:      models.EffectQuestComplete,
			QuestID:   q.ID,
			EventID:   env.EventID,
			Source:    HandlerQuest,
		})
		if q.RewardPoints > 0 {
			out = append(out, models.EffectInstruction{
				ProjectID: env.ProjectID,
				SubjectID: env.SubjectID,
				Kind:      models.EffectPoints,
				Points:    q.RewardPoints,
				EventID:   env.EventID,
				Source:    HandlerQuest,
			})
		}
		if q.RewardBadge != "" {
			out = append(out, models.EffectInstruction{
				ProjectID: env.ProjectID,
				SubjectID: env.SubjectID,
				Kind:      models.EffectBadge,
				Badge:     q.RewardBadge,
				EventID:   env.EventID,
				Source:    HandlerQuest,
			})
		}
	}

	return out, nil
}
