// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package models

import "time"

// CommissionRecord is one recorded affiliate commission. Keyed by the
// originating event ID, so redelivery never books a second commission.
type CommissionRecord struct {
	EventID     string    `json:"event_id"`
	ProjectID   string    `json:"project_id"`
	SubjectID   string    `json:"subject_id"`
	AffiliateID string    `json:"affiliate_id,omitempty"`
	Amount      int64     `json:"amount"`
	Rate        float64   `json:"rate"`
	CreatedAt   time.Time `json:"created_at"`
}
