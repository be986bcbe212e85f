// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package config

import "time"

// Config is the root configuration for the engine.
type Config struct {
	Server  ServerConfig  `koanf:"server" validate:"required"`
	NATS    NATSConfig    `koanf:"nats" validate:"required"`
	Store   StoreConfig   `koanf:"store" validate:"required"`
	Engine  EngineConfig  `koanf:"engine" validate:"required"`
	Sweeper SweeperConfig `koanf:"sweeper" validate:"required"`
	DLQ     DLQConfig     `koanf:"dlq" validate:"required"`
	API     APIConfig     `koanf:"api" validate:"required"`
	Logging LoggingConfig `koanf:"logging" validate:"required"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
}

// NATSConfig configures the embedded NATS server, the event stream, and
// the durable consumer.
type NATSConfig struct {
	// URL is the client connection URL. Ignored when Embedded is true;
	// the embedded server's own URL is used instead.
	URL      string `koanf:"url" validate:"required"`
	Embedded bool   `koanf:"embedded"`

	Host      string `koanf:"host" validate:"required"`
	Port      int    `koanf:"port" validate:"min=1,max=65535"`
	StoreDir  string `koanf:"store_dir" validate:"required"`
	MaxMemory int64  `koanf:"max_memory" validate:"min=1048576"`
	MaxStore  int64  `koanf:"max_store" validate:"min=1048576"`

	StreamName      string        `koanf:"stream_name" validate:"required"`
	StreamMaxAge    time.Duration `koanf:"stream_max_age" validate:"min=1h"`
	StreamMaxBytes  int64         `koanf:"stream_max_bytes" validate:"min=1048576"`
	DuplicateWindow time.Duration `koanf:"duplicate_window" validate:"min=1s"`

	DurableName string `koanf:"durable_name" validate:"required"`
	QueueGroup  string `koanf:"queue_group" validate:"required"`

	// SubscribersCount above 1 fans deliveries across goroutines. The
	// dispatcher serializes same-subject envelopes through its partition
	// locks, so this trades strict stream order for throughput without
	// racing per-subject state.
	SubscribersCount int           `koanf:"subscribers_count" validate:"min=1,max=64"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout" validate:"min=1s"`
	MaxDeliver       int           `koanf:"max_deliver" validate:"min=1"`
	CloseTimeout     time.Duration `koanf:"close_timeout" validate:"min=1s"`
}

// StoreConfig configures the Badger state store.
type StoreConfig struct {
	Path     string `koanf:"path" validate:"required_without=InMemory"`
	InMemory bool   `koanf:"in_memory"`
}

// EngineConfig configures handler fan-out and effect execution.
type EngineConfig struct {
	HandlerTimeout time.Duration `koanf:"handler_timeout" validate:"min=100ms"`
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1,max=10"`

	// CommissionRate is the default affiliate commission rate as a
	// fraction, applied when a purchase carries no explicit rate.
	CommissionRate float64 `koanf:"commission_rate" validate:"min=0,max=1"`

	InFlightTTL     time.Duration `koanf:"in_flight_ttl" validate:"min=1s"`
	DedupWindowSize int           `koanf:"dedup_window_size" validate:"min=16"`
	DedupWindowTTL  time.Duration `koanf:"dedup_window_ttl" validate:"min=1s"`
}

// SweeperConfig configures stale-record recovery.
type SweeperConfig struct {
	Interval           time.Duration `koanf:"interval" validate:"min=1s"`
	StalenessThreshold time.Duration `koanf:"staleness_threshold" validate:"min=1s"`
	BatchSize          int           `koanf:"batch_size" validate:"min=1,max=10000"`
	MaxSweepAttempts   int           `koanf:"max_sweep_attempts" validate:"min=1,max=100"`
	RatePerSecond      float64       `koanf:"rate_per_second" validate:"min=0"`
}

// DLQConfig configures the dead letter queue.
type DLQConfig struct {
	MaxEntries    int           `koanf:"max_entries" validate:"min=1"`
	RetentionTime time.Duration `koanf:"retention_time" validate:"min=1m"`
}

// APIConfig configures the HTTP API surface.
type APIConfig struct {
	// IngestEnabled exposes POST /events on this node. Disable on nodes
	// that only run the consumer side.
	IngestEnabled bool `koanf:"ingest_enabled"`

	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitRequests       int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow         time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
	IngestRateLimitRequests int           `koanf:"ingest_rate_limit_requests" validate:"min=1"`
	RateLimitDisabled       bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}
