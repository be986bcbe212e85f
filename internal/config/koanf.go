// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/perkforge/config.yaml",
	"/etc/perkforge/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "PERKFORGE_CONFIG_PATH"

// envPrefix namespaces every configuration environment variable.
const envPrefix = "PERKFORGE_"

// Default returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8711,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:       "nats://127.0.0.1:4222",
			Embedded:  true,
			Host:      "127.0.0.1",
			Port:      4222,
			StoreDir:  "/data/nats/jetstream",
			MaxMemory: 1 << 30,  // 1GB
			MaxStore:  10 << 30, // 10GB

			StreamName:      "PERK_EVENTS",
			StreamMaxAge:    7 * 24 * time.Hour,
			StreamMaxBytes:  5 << 30, // 5GB
			DuplicateWindow: 2 * time.Minute,

			DurableName:      "perk-processor",
			QueueGroup:       "processors",
			SubscribersCount: 1,
			AckWaitTimeout:   90 * time.Second,
			MaxDeliver:       5,
			CloseTimeout:     30 * time.Second,
		},
		Store: StoreConfig{
			Path:     "/data/perkforge/state",
			InMemory: false,
		},
		Engine: EngineConfig{
			HandlerTimeout:  10 * time.Second,
			MaxAttempts:     3,
			CommissionRate:  0.05,
			InFlightTTL:     60 * time.Second,
			DedupWindowSize: 10000,
			DedupWindowTTL:  5 * time.Minute,
		},
		Sweeper: SweeperConfig{
			Interval:           30 * time.Second,
			StalenessThreshold: 2 * time.Minute,
			BatchSize:          100,
			MaxSweepAttempts:   5,
			RatePerSecond:      50,
		},
		DLQ: DLQConfig{
			MaxEntries:    10000,
			RetentionTime: 24 * time.Hour,
		},
		API: APIConfig{
			IngestEnabled:           true,
			CORSOrigins:             []string{}, // Empty by default, requires explicit configuration
			RateLimitRequests:       100,
			RateLimitWindow:         time.Minute,
			IngestRateLimitRequests: 5000,
			RateLimitDisabled:       false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults from Default()
//  2. Optional YAML config file
//  3. PERKFORGE_* environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PERKFORGE_NATS_STORE_DIR -> nats.store_dir
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file. Returns the first path
// that exists, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps PERKFORGE_* variable names to koanf paths. The
// first underscore after the prefix separates the section from the key:
// PERKFORGE_NATS_STORE_DIR becomes nats.store_dir. Section names are
// single words, so the split is unambiguous.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when supplied through environment variables.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices.
// Env vars arrive as strings; YAML values are already slices and pass
// through.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
