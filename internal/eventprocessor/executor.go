// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/metrics"
	"github.com/perkforge/perkforge/internal/models"
	"github.com/perkforge/perkforge/internal/progression"
	"github.com/perkforge/perkforge/internal/store"
)

// ApplyResult summarizes one executor run.
type ApplyResult struct {
	// Applied counts instructions that mutated state.
	Applied int
	// Skipped counts instructions short-circuited by the idempotency
	// barrier (their group was already applied for this event).
	Skipped int
	// Commissions counts commission records written.
	Commissions int
}

// Executor applies effect instructions to subject state exactly once.
//
// Instructions are grouped by (subject, source) and each group runs as
// one atomic store mutation guarded by an applied marker: either every
// instruction in the group takes effect or none do, and a redelivered
// event skips groups that already applied. Partial fan-out failures are
// therefore safe to re-drive; only the groups from previously failed
// handlers apply on the second pass.
type Executor struct {
	store  *store.Store
	ladder *progression.Ladder
}

// NewExecutor creates an executor.
func NewExecutor(st *store.Store, ladder *progression.Ladder) (*Executor, error) {
	if st == nil {
		return nil, ErrNilStore
	}
	if ladder == nil {
		ladder = progression.DefaultLadder()
	}
	return &Executor{store: st, ladder: ladder}, nil
}

type instructionGroup struct {
	subjectID string
	source    string
	items     []models.EffectInstruction
}

// Apply applies the pooled instructions for one envelope. The returned
// error is retryable (storage trouble); idempotent skips are not errors.
func (e *Executor) Apply(ctx context.Context, env *models.Envelope, instructions []models.EffectInstruction) (ApplyResult, error) {
	var result ApplyResult
	if len(instructions) == 0 {
		return result, nil
	}

	// Group by (subject, source) preserving first-seen order, so the
	// applied markers have per-handler granularity.
	index := make(map[string]int)
	var groups []instructionGroup
	for _, inst := range instructions {
		key := inst.SubjectID + "\x00" + inst.Source
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, instructionGroup{subjectID: inst.SubjectID, source: inst.Source})
		}
		groups[gi].items = append(groups[gi].items, inst)
	}

	for _, g := range groups {
		err := e.store.ApplySubjectMutation(ctx, env.ProjectID, g.subjectID, env.EventID, g.source, func(state *models.SubjectState) error {
			for _, inst := range g.items {
				if err := e.applyInstruction(state, &inst); err != nil {
					return err
				}
			}
			return nil
		})

		switch {
		case errors.Is(err, store.ErrAlreadyApplied):
			result.Skipped += len(g.items)
			for range g.items {
				metrics.EffectsSkipped.Inc()
			}
		case err != nil:
			var permErr *PermanentError
			if errors.As(err, &permErr) {
				return result, err
			}
			return result, NewRetryableError("store: apply subject mutation", err)
		default:
			result.Applied += len(g.items)
			for _, inst := range g.items {
				metrics.RecordEffect(string(inst.Kind))
				if inst.Kind == models.EffectPoints {
					metrics.RecordPoints(inst.Points)
				}
			}
		}

		// Commission records live outside subject state, keyed by event,
		// so the insert is idempotent on its own. Written after the
		// mutation (or its skip) so a crash in between is recoverable by
		// re-drive.
		for _, inst := range g.items {
			if inst.Kind != models.EffectCommission || inst.Amount <= 0 {
				continue
			}
			rec := &models.CommissionRecord{
				EventID:     env.EventID,
				ProjectID:   env.ProjectID,
				SubjectID:   g.subjectID,
				AffiliateID: inst.AffiliateID,
				Amount:      inst.Amount,
				Rate:        inst.Rate,
				CreatedAt:   time.Now().UTC(),
			}
			if err := e.store.InsertCommissionRecord(ctx, rec); err != nil {
				return result, NewRetryableError("store: insert commission record", err)
			}
			result.Commissions++
		}
	}

	logging.Debug().
		Str("event_id", env.EventID).
		Int("applied", result.Applied).
		Int("skipped", result.Skipped).
		Int("commissions", result.Commissions).
		Msg("Effects applied")

	return result, nil
}

// applyInstruction mutates state for one instruction. Numeric effects
// are additive; badge, tier, trait, and quest effects are idempotent or
// monotonic by construction.
func (e *Executor) applyInstruction(state *models.SubjectState, inst *models.EffectInstruction) error {
	now := time.Now().UTC()

	switch inst.Kind {
	case models.EffectPoints:
		state.Points += inst.Points
		state.LifetimePoints += inst.Points
		// Tier crossings take effect in the same dispatch as the grant.
		state.Tier = e.ladder.Advance(state.Tier, state.LifetimePoints)

	case models.EffectBadge:
		if !state.HasBadge(inst.Badge) {
			state.Badges[inst.Badge] = now
		}

	case models.EffectTier:
		// Tier instructions set a floor; tiers never regress.
		if inst.Tier > state.Tier {
			state.Tier = inst.Tier
		}

	case models.EffectCommission:
		state.CommissionTotal += inst.Amount

	case models.EffectQuestAdvance:
		progress, ok := state.Quests[inst.QuestID]
		if !ok {
			progress = &models.QuestProgress{}
			state.Quests[inst.QuestID] = progress
		}
		progress.Step += inst.Steps

	case models.EffectQuestComplete:
		progress, ok := state.Quests[inst.QuestID]
		if !ok {
			progress = &models.QuestProgress{}
			state.Quests[inst.QuestID] = progress
		}
		if !progress.Completed {
			progress.Completed = true
			completedAt := now
			progress.CompletedAt = &completedAt
		}

	case models.EffectTraitSet:
		state.Traits[inst.Trait] = inst.TraitValue

	case models.EffectStreak:
		touchStreak(&state.Streak, inst.Day)

	default:
		return NewPermanentError(fmt.Sprintf("invalid effect kind %q", inst.Kind), nil)
	}

	return nil
}

// touchStreak updates consecutive-day counters for an activity day in
// YYYY-MM-DD form. Same-day repeats and late-arriving older days are
// no-ops; a gap resets the streak. Lexicographic comparison is date
// order for this format.
func touchStreak(s *models.Streak, day string) {
	if day == "" || day <= s.LastDay {
		return
	}
	if s.LastDay != "" && day == nextDay(s.LastDay) {
		s.Current++
	} else {
		s.Current = 1
	}
	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	s.LastDay = day
}

func nextDay(day string) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}
