// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package middleware provides HTTP middleware for the admin API:
// request ID propagation and Prometheus request instrumentation.
package middleware
