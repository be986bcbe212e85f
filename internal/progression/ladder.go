// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package progression evaluates level-up thresholds. The ladder is a
// pure computation over a subject's lifetime point total; tier values
// are monotonically non-decreasing by construction.
package progression

// Ladder defines the point thresholds for each tier. Tier n is reached
// when lifetime points >= Thresholds[n-1]; tier 0 is the starting tier.
type Ladder struct {
	Thresholds []int64
}

// DefaultLadder returns the standard four-tier ladder
// (Bronze 0, Silver 1000, Gold 5000, Platinum 20000).
func DefaultLadder() *Ladder {
	return &Ladder{Thresholds: []int64{1000, 5000, 20000}}
}

// TierFor returns the tier a point total qualifies for.
func (l *Ladder) TierFor(points int64) int {
	tier := 0
	for _, threshold := range l.Thresholds {
		if points < threshold {
			break
		}
		tier++
	}
	return tier
}

// Advance returns the tier after considering a new point total. The
// result never regresses below the current tier, even if the total
// qualifies for less.
func (l *Ladder) Advance(currentTier int, points int64) int {
	if t := l.TierFor(points); t > currentTier {
		return t
	}
	return currentTier
}

// MaxTier returns the highest tier the ladder defines.
func (l *Ladder) MaxTier() int {
	return len(l.Thresholds)
}
