// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

// Command server runs the PerkForge engine: an embedded NATS JetStream
// server, the event-processing pipeline, the stale-record sweeper, and
// the HTTP API, all under a Suture supervision tree.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/perkforge/perkforge/internal/api"
	"github.com/perkforge/perkforge/internal/commission"
	"github.com/perkforge/perkforge/internal/config"
	"github.com/perkforge/perkforge/internal/eventprocessor"
	"github.com/perkforge/perkforge/internal/logging"
	"github.com/perkforge/perkforge/internal/progression"
	"github.com/perkforge/perkforge/internal/rules"
	"github.com/perkforge/perkforge/internal/store"
	"github.com/perkforge/perkforge/internal/supervisor"
	"github.com/perkforge/perkforge/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if cfg.HasWildcardCORS() {
		logging.Warn().Msg("CORS is configured with a wildcard origin; restrict api.cors_origins in production")
	}

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Engine failed")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedded NATS server, unless pointed at an external one.
	natsURL := cfg.NATS.URL
	var embedded *eventprocessor.EmbeddedServer
	if cfg.NATS.Embedded {
		serverCfg := eventprocessor.ServerConfig{
			Host:              cfg.NATS.Host,
			Port:              cfg.NATS.Port,
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		}
		es, err := eventprocessor.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return fmt.Errorf("embedded NATS server: %w", err)
		}
		embedded = es
		natsURL = es.ClientURL()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = embedded.Shutdown(shutdownCtx)
		}()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	if err := provisionStream(ctx, natsURL, cfg); err != nil {
		return err
	}

	st, err := store.Open(store.Options{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	wmLogger := logging.NewWatermillAdapter()

	publisher, err := eventprocessor.NewPublisher(eventprocessor.DefaultPublisherConfig(natsURL), wmLogger)
	if err != nil {
		return fmt.Errorf("publisher: %w", err)
	}
	defer func() { _ = publisher.Close() }()
	publisher.SetCircuitBreaker(newPublishBreaker())

	dlq, err := eventprocessor.NewDLQHandler(eventprocessor.DLQConfig{
		MaxEntries:    cfg.DLQ.MaxEntries,
		RetentionTime: cfg.DLQ.RetentionTime,
	})
	if err != nil {
		return fmt.Errorf("dead letter queue: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg, st, dlq)
	if err != nil {
		return err
	}

	subscriber, err := eventprocessor.NewSubscriber(&eventprocessor.SubscriberConfig{
		URL:              natsURL,
		DurableName:      cfg.NATS.DurableName,
		QueueGroup:       cfg.NATS.QueueGroup,
		SubscribersCount: cfg.NATS.SubscribersCount,
		AckWaitTimeout:   cfg.NATS.AckWaitTimeout,
		MaxDeliver:       cfg.NATS.MaxDeliver,
		MaxAckPending:    1000,
		CloseTimeout:     cfg.NATS.CloseTimeout,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		StreamName:       cfg.NATS.StreamName,
	}, wmLogger)
	if err != nil {
		return fmt.Errorf("subscriber: %w", err)
	}
	defer func() { _ = subscriber.Close() }()

	routerCfg := eventprocessor.DefaultRouterConfig()
	routerCfg.CloseTimeout = cfg.NATS.CloseTimeout
	router, err := eventprocessor.NewRouter(&routerCfg, publisher.WatermillPublisher(), wmLogger)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	router.AddConsumerHandler("event-dispatcher", "events.>", subscriber.WatermillSubscriber(), dispatcher.HandleMessage)

	sweeper, err := eventprocessor.NewSweeper(eventprocessor.SweeperConfig{
		Interval:           cfg.Sweeper.Interval,
		StalenessThreshold: cfg.Sweeper.StalenessThreshold,
		BatchSize:          cfg.Sweeper.BatchSize,
		MaxSweepAttempts:   cfg.Sweeper.MaxSweepAttempts,
		RatePerSecond:      cfg.Sweeper.RatePerSecond,
	}, st, dispatcher)
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}

	checker := eventprocessor.NewHealthChecker(eventprocessor.DefaultHealthConfig())
	checker.RegisterComponent("dispatcher", dispatcher)
	checker.RegisterComponent("publisher", publisher)
	checker.RegisterComponent("dlq", dlq)
	checker.RegisterComponent("router", router)
	if embedded != nil {
		checker.RegisterComponent("nats-server", embedded)
	}

	httpServer := buildHTTPServer(cfg, st, checker, publisher, dlq)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddStreamService(services.NewRouterService(router))
	tree.AddRecoveryService(services.NewSweeperService(sweeper))
	tree.AddRecoveryService(services.NewMaintenanceService("dlq-maintenance", dlq, time.Hour))
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	logging.Info().
		Int("port", cfg.Server.Port).
		Str("stream", cfg.NATS.StreamName).
		Str("durable", cfg.NATS.DurableName).
		Msg("PerkForge engine starting")

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	logging.Info().Msg("PerkForge engine stopped")
	return nil
}

// provisionStream creates or updates the event stream before any
// consumer binds. Binding would fail against a missing stream because
// the consume topic is a wildcard and cannot auto-provision.
func provisionStream(ctx context.Context, natsURL string, cfg *config.Config) error {
	streamCfg := eventprocessor.DefaultStreamConfig()
	streamCfg.Name = cfg.NATS.StreamName
	streamCfg.MaxAge = cfg.NATS.StreamMaxAge
	streamCfg.MaxBytes = cfg.NATS.StreamMaxBytes
	streamCfg.DuplicateWindow = cfg.NATS.DuplicateWindow

	manager, err := eventprocessor.NewStreamManager(natsURL, streamCfg, logging.Logger())
	if err != nil {
		return fmt.Errorf("stream manager: %w", err)
	}
	defer manager.Close()

	if err := manager.EnsureStream(ctx); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

func buildDispatcher(cfg *config.Config, st *store.Store, dlq *eventprocessor.DLQHandler) (*eventprocessor.Dispatcher, error) {
	registry := eventprocessor.NewDefaultRegistry(
		eventprocessor.RegistryConfig{
			HandlerTimeout: cfg.Engine.HandlerTimeout,
			MaxAttempts:    cfg.Engine.MaxAttempts,
		},
		commission.NewCalculator(cfg.Engine.CommissionRate),
		progression.DefaultLadder(),
		rules.NewEngine(),
		st,
		st,
	)

	executor, err := eventprocessor.NewExecutor(st, progression.DefaultLadder())
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	dcfg := eventprocessor.DefaultDispatcherConfig()
	dcfg.InFlightTTL = cfg.Engine.InFlightTTL
	dcfg.DedupWindowSize = cfg.Engine.DedupWindowSize
	dcfg.DedupWindowTTL = cfg.Engine.DedupWindowTTL

	dispatcher, err := eventprocessor.NewDispatcher(dcfg, st, registry, executor, dlq)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	return dispatcher, nil
}

func buildHTTPServer(
	cfg *config.Config,
	st *store.Store,
	checker *eventprocessor.HealthChecker,
	publisher *eventprocessor.Publisher,
	dlq *eventprocessor.DLQHandler,
) *http.Server {
	var ingestPublisher *eventprocessor.Publisher
	if cfg.API.IngestEnabled {
		ingestPublisher = publisher
	}
	handler := api.NewHandler(st, checker, ingestPublisher, dlq)

	mwCfg := api.DefaultChiMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.API.CORSOrigins
	mwCfg.RateLimitRequests = cfg.API.RateLimitRequests
	mwCfg.RateLimitWindow = cfg.API.RateLimitWindow
	mwCfg.IngestRateLimitRequests = cfg.API.IngestRateLimitRequests
	mwCfg.RateLimitDisabled = cfg.API.RateLimitDisabled

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler, mwCfg).Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// newPublishBreaker guards stream publishes. The breaker opens after
// repeated consecutive failures so API ingestion fails fast instead of
// stacking timeouts while NATS is down.
func newPublishBreaker() *gobreaker.CircuitBreaker[interface{}] {
	return gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "stream-publish",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})
}
