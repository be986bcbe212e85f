// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package supervisor builds the Suture v4 supervision tree for the
// engine's long-running services.
//
// The tree has three layers:
//   - stream: the Watermill router consuming the event stream
//   - recovery: the sweeper and periodic maintenance
//   - api: the HTTP server
//
// Layering isolates failures: a crash in the stream layer restarts the
// consumer without taking down the API, and vice versa. Supervisor
// events are logged through sutureslog into the zerolog backend.
package supervisor
