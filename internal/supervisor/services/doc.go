// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package services wraps the engine's components as suture.Service
// implementations.
//
// Each wrapper adapts a component's native lifecycle (blocking Run,
// ListenAndServe, periodic tick) to suture's context-aware Serve
// pattern. Wrappers depend on small local interfaces rather than the
// concrete component types, which keeps this package import-cycle-free
// and lets tests substitute fakes.
package services
