// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Package config loads and validates engine configuration.
//
// Configuration is layered with Koanf v2: built-in defaults, then an
// optional YAML file, then environment variables with the PERKFORGE_
// prefix. Precedence is ENV > file > defaults.
//
// Example overrides:
//
//	PERKFORGE_SERVER_PORT=8080
//	PERKFORGE_NATS_STORE_DIR=/data/nats
//	PERKFORGE_LOGGING_LEVEL=debug
//	PERKFORGE_API_CORS_ORIGINS=https://app.example.com,https://admin.example.com
package config
