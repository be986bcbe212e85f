// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8711 {
		t.Errorf("Server.Port = %d, want 8711", cfg.Server.Port)
	}
	if cfg.NATS.StreamName != "PERK_EVENTS" {
		t.Errorf("NATS.StreamName = %q", cfg.NATS.StreamName)
	}
	if !cfg.NATS.Embedded {
		t.Error("NATS.Embedded = false, want true by default")
	}
	if cfg.Engine.CommissionRate != 0.05 {
		t.Errorf("Engine.CommissionRate = %v, want 0.05", cfg.Engine.CommissionRate)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PERKFORGE_SERVER_PORT", "9090")
	t.Setenv("PERKFORGE_NATS_STORE_DIR", "/tmp/perk-nats")
	t.Setenv("PERKFORGE_LOGGING_LEVEL", "debug")
	t.Setenv("PERKFORGE_SWEEPER_STALENESS_THRESHOLD", "5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.NATS.StoreDir != "/tmp/perk-nats" {
		t.Errorf("NATS.StoreDir = %q", cfg.NATS.StoreDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Sweeper.StalenessThreshold != 5*time.Minute {
		t.Errorf("Sweeper.StalenessThreshold = %s, want 5m", cfg.Sweeper.StalenessThreshold)
	}
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv("PERKFORGE_API_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.API.CORSOrigins) != 2 {
		t.Fatalf("CORSOrigins = %v, want 2 entries", cfg.API.CORSOrigins)
	}
	if cfg.API.CORSOrigins[1] != "https://admin.example.com" {
		t.Errorf("CORSOrigins[1] = %q, whitespace not trimmed", cfg.API.CORSOrigins[1])
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 4000
logging:
  level: warn
  format: console
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000 from file", cfg.Server.Port)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Logging.Format = %q, want console", cfg.Logging.Format)
	}
	// Untouched sections keep defaults.
	if cfg.NATS.DurableName != "perk-processor" {
		t.Errorf("NATS.DurableName = %q, defaults lost", cfg.NATS.DurableName)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 4000\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PERKFORGE_SERVER_PORT", "5000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want env override 5000", cfg.Server.Port)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantSub: "Level",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantSub: "Port",
		},
		{
			name:    "ack wait above staleness",
			mutate:  func(c *Config) { c.NATS.AckWaitTimeout = 10 * time.Minute },
			wantSub: "ack_wait_timeout",
		},
		{
			name:    "in flight above staleness",
			mutate:  func(c *Config) { c.Engine.InFlightTTL = 10 * time.Minute },
			wantSub: "in_flight_ttl",
		},
		{
			name:    "bare cors origin",
			mutate:  func(c *Config) { c.API.CORSOrigins = []string{"example.com"} },
			wantSub: "cors_origins",
		},
		{
			name:    "no store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantSub: "Path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.wantSub)
			}
		})
	}
}

func TestHasWildcardCORS(t *testing.T) {
	cfg := Default()
	if cfg.HasWildcardCORS() {
		t.Error("HasWildcardCORS() = true for empty origins")
	}
	cfg.API.CORSOrigins = []string{"*"}
	if !cfg.HasWildcardCORS() {
		t.Error("HasWildcardCORS() = false for wildcard")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PERKFORGE_SERVER_PORT", "server.port"},
		{"PERKFORGE_NATS_STORE_DIR", "nats.store_dir"},
		{"PERKFORGE_SWEEPER_MAX_SWEEP_ATTEMPTS", "sweeper.max_sweep_attempts"},
		{"PERKFORGE_API_CORS_ORIGINS", "api.cors_origins"},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
