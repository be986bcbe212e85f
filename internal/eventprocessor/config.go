// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package eventprocessor

import "time"

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns production defaults for the embedded NATS
// server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/nats/jetstream",
		JetStreamMaxMem:   1 << 30,  // 1GB
		JetStreamMaxStore: 10 << 30, // 10GB
	}
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: true,
	}
}

// SubscriberConfig holds durable JetStream subscriber configuration.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration

	// StreamName is the JetStream stream to bind to. Binding is required
	// because the consume topic is a wildcard ("events.>") and stream
	// names cannot contain wildcards, so auto-provision would fail.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for the subscriber.
//
// SubscribersCount is 1 by default, which preserves strict delivery
// order. Raising it fans deliveries across goroutines; the dispatcher's
// partition locks still serialize same-subject envelopes, and the
// executor's applied markers keep replays idempotent.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "perk-processor",
		QueueGroup:       "processors",
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,    // Max redelivery attempts
		MaxAckPending:    1000, // Flow control
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		StreamName:       "PERK_EVENTS",
	}
}

// StreamConfig defines the behavioral event stream settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns production stream configuration.
// Subjects follow the hierarchy events.<project>.<type>.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            "PERK_EVENTS",
		Subjects:        []string{"events.>"},
		MaxAge:          7 * 24 * time.Hour,     // 7 days
		MaxBytes:        5 * 1024 * 1024 * 1024, // 5GB
		MaxMsgs:         -1,                     // Unlimited
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// RegistryConfig holds handler fan-out configuration.
type RegistryConfig struct {
	// HandlerTimeout bounds one handler invocation. A timeout is treated
	// as a transient failure and retried.
	HandlerTimeout time.Duration

	// MaxAttempts bounds per-handler attempts within one dispatch.
	MaxAttempts int
}

// DefaultRegistryConfig returns production defaults for the registry.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HandlerTimeout: 10 * time.Second,
		MaxAttempts:    3,
	}
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	// InFlightTTL is the lifetime of the in-flight marker a consumer
	// holds while processing an envelope. The sweeper skips records with
	// a live marker.
	InFlightTTL time.Duration

	// DedupWindowSize and DedupWindowTTL bound the in-memory
	// deduplication window in front of the durable processing records.
	DedupWindowSize int
	DedupWindowTTL  time.Duration

	// PartitionStripes sizes the lock table that serializes dispatches
	// sharing an envelope partition key, so same-subject events are
	// never worked concurrently even with multiple subscribers.
	PartitionStripes int
}

// DefaultDispatcherConfig returns production defaults for the dispatcher.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		InFlightTTL:      60 * time.Second,
		DedupWindowSize:  10000,
		DedupWindowTTL:   5 * time.Minute,
		PartitionStripes: defaultPartitionStripes,
	}
}

// defaultPartitionStripes bounds the partition lock table. 256 stripes
// keep same-subject serialization cheap while leaving cross-subject
// collisions rare at the default subscriber counts.
const defaultPartitionStripes = 256

// SweeperConfig holds sweeper configuration.
type SweeperConfig struct {
	// Interval is how often the sweeper scans for stale records.
	Interval time.Duration

	// StalenessThreshold is how long a pending record may sit without
	// progress before it is re-driven.
	StalenessThreshold time.Duration

	// BatchSize bounds how many stale records one cycle re-drives.
	BatchSize int

	// MaxSweepAttempts bounds re-drives per record; exhaustion moves the
	// record to failed and surfaces it on the dead-letter queue.
	MaxSweepAttempts int

	// RatePerSecond throttles re-drives so recovery never starves live
	// traffic. Zero disables throttling.
	RatePerSecond float64
}

// DefaultSweeperConfig returns production defaults for the sweeper.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:           30 * time.Second,
		StalenessThreshold: 2 * time.Minute,
		BatchSize:          100,
		MaxSweepAttempts:   5,
		RatePerSecond:      50,
	}
}

// CircuitBreakerConfig holds circuit breaker settings for the effect
// application path.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// DLQConfig holds configuration for the in-memory dead letter queue.
type DLQConfig struct {
	// MaxEntries bounds the queue; the oldest entry is evicted when full.
	MaxEntries int

	// RetentionTime is how long entries are kept before cleanup.
	RetentionTime time.Duration
}

// DefaultDLQConfig returns production defaults for the DLQ.
func DefaultDLQConfig() DLQConfig {
	return DLQConfig{
		MaxEntries:    10000,
		RetentionTime: 7 * 24 * time.Hour,
	}
}
