// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package models defines the domain types shared across the event
// processing core: the event envelope flowing through the stream, the
// per-event processing record, tenant rule definitions, effect
// instructions, and the subject progress state they mutate.
//
// Types in this package are plain data. Behavior lives in the packages
// that own it: rule evaluation in internal/rules, state mutation in
// internal/eventprocessor's Effect Executor, persistence in
// internal/store.
package models
