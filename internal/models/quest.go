// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package models

import "time"

// QuestStep is one ordered step of a quest. A step qualifies when an
// event of the named action type arrives for the subject.
type QuestStep struct {
	Action string `json:"action"`
	Name   string `json:"name,omitempty"`
}

// QuestDefinition is a tenant-scoped quest: an ordered sequence of
// qualifying actions with a reward granted on completion of the final
// step.
type QuestDefinition struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Name      string      `json:"name"`
	Active    bool        `json:"active"`
	Steps     []QuestStep `json:"steps"`

	RewardPoints int64  `json:"reward_points,omitempty"`
	RewardBadge  string `json:"reward_badge,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextAction returns the qualifying action for a subject currently at
// step (0-based count of completed steps). Returns false when the quest
// is already complete or has no steps.
func (q *QuestDefinition) NextAction(step int) (string, bool) {
	if step < 0 || step >= len(q.Steps) {
		return "", false
	}
	return q.Steps[step].Action, true
}

// FinalStep reports whether completing one more step finishes the quest.
func (q *QuestDefinition) FinalStep(step int) bool {
	return step == len(q.Steps)-1
}
