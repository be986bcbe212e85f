// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package cache provides in-memory data structures used on the event hot
// path: a TTL-bounded deduplication window for event IDs and a keyed
// min-heap for dead-letter aging and eviction.
package cache
