// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package eventprocessor implements the event-processing core: a NATS
// JetStream consumer that takes one envelope at a time off the stream,
// fans it out to the handlers that claim its type, evaluates tenant
// rules, applies the resulting effects exactly once, and recovers
// envelopes that got stuck mid-processing.
//
// The pipeline is: Dispatcher → Registry → {Handlers → Rule Engine} →
// Executor → persisted state. The Sweeper runs out-of-band against
// persisted processing records and re-enters the identical Dispatcher
// path for stale ones, so first-pass and recovery processing share one
// code path and one set of idempotency guarantees.
package eventprocessor
