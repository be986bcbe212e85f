// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package store

import "errors"

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyApplied is returned by ApplySubjectMutation when the
// (event, subject, source) applied marker already exists; the caller
// treats it as an idempotent no-op.
var ErrAlreadyApplied = errors.New("store: mutation already applied")

// ErrInFlight is returned by MarkInFlight when another consumer holds a
// live in-flight marker for the record.
var ErrInFlight = errors.New("store: record is in flight")
