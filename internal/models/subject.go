// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package models

import "time"

// QuestProgress tracks one subject's position in one quest.
type QuestProgress struct {
	Step        int        `json:"step"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Streak tracks consecutive-day activity. Days are UTC calendar days in
// YYYY-MM-DD form so streak math never touches the wall clock during
// evaluation.
type Streak struct {
	Current int    `json:"current"`
	Longest int    `json:"longest"`
	LastDay string `json:"last_day,omitempty"`
}

// SubjectState is the tenant+subject scoped progress state: points
// balance, tier, badges, quest progress, traits, streak counters.
//
// The Effect Executor is the sole writer. Every other component receives
// a snapshot (Clone) and never mutates it.
type SubjectState struct {
	ProjectID string `json:"project_id"`
	SubjectID string `json:"subject_id"`

	Points         int64 `json:"points"`
	LifetimePoints int64 `json:"lifetime_points"`
	Tier           int   `json:"tier"`

	// Badges maps badge name to unlock time. Granting a held badge is a
	// no-op.
	Badges map[string]time.Time `json:"badges,omitempty"`

	// Quests maps quest ID to progress.
	Quests map[string]*QuestProgress `json:"quests,omitempty"`

	// Traits are identity attributes, overwrite-by-key, last write wins.
	Traits map[string]string `json:"traits,omitempty"`

	Streak Streak `json:"streak"`

	CommissionTotal int64 `json:"commission_total"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewSubjectState returns an empty state for a subject.
func NewSubjectState(projectID, subjectID string) *SubjectState {
	return &SubjectState{
		ProjectID: projectID,
		SubjectID: subjectID,
		Badges:    make(map[string]time.Time),
		Quests:    make(map[string]*QuestProgress),
		Traits:    make(map[string]string),
	}
}

// HasBadge reports whether the subject holds the named badge.
func (s *SubjectState) HasBadge(name string) bool {
	_, ok := s.Badges[name]
	return ok
}

// QuestStep returns the subject's current step for a quest (0 if the
// quest has not been started).
func (s *SubjectState) QuestStep(questID string) int {
	if p, ok := s.Quests[questID]; ok {
		return p.Step
	}
	return 0
}

// Clone returns a deep copy for use as a read-only snapshot.
func (s *SubjectState) Clone() *SubjectState {
	out := *s
	out.Badges = make(map[string]time.Time, len(s.Badges))
	for k, v := range s.Badges {
		out.Badges[k] = v
	}
	out.Quests = make(map[string]*QuestProgress, len(s.Quests))
	for k, v := range s.Quests {
		p := *v
		if v.CompletedAt != nil {
			t := *v.CompletedAt
			p.CompletedAt = &t
		}
		out.Quests[k] = &p
	}
	out.Traits = make(map[string]string, len(s.Traits))
	for k, v := range s.Traits {
		out.Traits[k] = v
	}
	return &out
}
