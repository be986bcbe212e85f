// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package api provides the HTTP surface of the engine: event ingestion,
// rule and quest administration, subject and processing-record
// inspection, dead-letter queue management, and health endpoints.
//
// Routing uses Chi with production middleware from its ecosystem
// (go-chi/cors for CORS, go-chi/httprate for rate limiting) plus the
// request-ID and Prometheus middleware from internal/middleware.
//
// File layout:
//   - router.go: Router struct and route registration
//   - chi_middleware.go: CORS and rate-limit middleware factories
//   - handlers.go: Handler struct, constructor, response helpers
//   - handlers_health.go: liveness, readiness, component health
//   - handlers_events.go: event ingestion
//   - handlers_rules.go: rule and quest administration
//   - handlers_inspect.go: subject state, records, dead-letter queue
package api
