// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package main is the entry point for the ReelRank server.
//
// ReelRank is a self-hosted movie recommendation service. It computes
// personalized recommendation lists from user rating history and movie
// embeddings, serves them through a cached REST API, and keeps the
// embedding model fresh with a supervised retraining pipeline.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: settings from environment variables and config file (Koanf v2)
//  2. Storage: Badger for the movie catalog, interaction log, and pipeline state
//  3. Vector store: latest persisted embedding snapshot, if any
//  4. Recommendation service: cosine-similarity recommender behind the TTL cache
//  5. Pipeline orchestrator: full and incremental retraining runs
//  6. Event bus (optional): registration events that bootstrap new users
//  7. Supervisor tree: Badger GC, retraining scheduler, trigger listener, HTTP server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (see the mappings in internal/config)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Stops the retraining scheduler and trigger listener
//   - Closes the event bus and the database
//
// # Example Usage
//
// Local embeddings, default ports:
//
//	export STORE_PATH=/data/reelrank
//	./reelrank
//
// Remote embedding service:
//
//	export EMBEDDING_PROVIDER=http
//	export EMBEDDING_ENDPOINT=http://embedder:9000/embed
//	export MODEL_VERSION=v2
//	./reelrank
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelrank/reelrank/internal/api"
	"github.com/reelrank/reelrank/internal/config"
	"github.com/reelrank/reelrank/internal/embedding"
	"github.com/reelrank/reelrank/internal/logging"
	"github.com/reelrank/reelrank/internal/pipeline"
	"github.com/reelrank/reelrank/internal/recommend"
	"github.com/reelrank/reelrank/internal/store"
	"github.com/reelrank/reelrank/internal/supervisor"
	"github.com/reelrank/reelrank/internal/supervisor/services"
	"github.com/reelrank/reelrank/internal/trigger"
	"github.com/reelrank/reelrank/internal/vectorstore"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Str("embedding_provider", cfg.Embedding.Provider).
		Str("model_version", cfg.Embedding.ModelVersion).
		Bool("trigger_enabled", cfg.Trigger.Enabled).
		Msg("Starting ReelRank")

	db, err := store.Open(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	movieStore := store.NewMovieStore(db)
	interactionStore := store.NewInteractionStore(db)
	stateStore := pipeline.NewStateStore(db)

	// Reload the newest persisted embedding snapshot so recommendations are
	// available immediately after a restart; without one the service falls
	// back to popular items until the first full run completes.
	persister, err := vectorstore.NewPersister(cfg.Pipeline.ModelPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize snapshot persistence")
	}

	snapshot, meta, err := persister.LoadLatest()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load persisted snapshot")
	}
	if snapshot != nil {
		logging.Info().
			Int("version", meta.Version).
			Str("model_version", meta.ModelVersion).
			Int("movies", meta.MovieCount).
			Time("saved_at", meta.SavedAt).
			Msg("Loaded embedding snapshot")
	} else {
		logging.Info().Msg("No persisted snapshot found, serving popular items until first retrain")
	}
	vectors := vectorstore.New(snapshot)

	recommendSvc := recommend.NewService(recommend.ServiceConfig{
		DefaultLimit:      cfg.Recommend.DefaultLimit,
		MaxLimit:          cfg.Recommend.MaxLimit,
		MinRating:         cfg.Recommend.MinRating,
		ExcludeSeen:       cfg.Recommend.ExcludeSeen,
		RecommendationTTL: cfg.Cache.RecommendationTTL,
		PopularTTL:        cfg.Cache.RecommendationTTL * time.Duration(cfg.Cache.PopularTTLFactor),
		MovieTTL:          cfg.Cache.MovieTTL,
		CleanupInterval:   cfg.Cache.CleanupInterval,
	}, vectors, interactionStore)
	defer recommendSvc.Close()

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize embedding provider")
	}

	orchestrator := pipeline.NewOrchestrator(
		pipeline.Config{
			RetrainInterval: cfg.Pipeline.RetrainInterval,
			MinInteractions: cfg.Pipeline.MinInteractions,
			RunTimeout:      cfg.Pipeline.RunTimeout,
			KeepSnapshots:   cfg.Pipeline.KeepSnapshots,
		},
		stateStore,
		movieStore,
		interactionStore,
		embedder,
		vectors,
		persister,
		recommendSvc,
	)

	// Create context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(services.NewGCService(db, cfg.Store.GCInterval))

	tree.AddPipelineService(services.NewSchedulerService(orchestrator, services.SchedulerConfig{
		CheckInterval: cfg.Pipeline.CheckInterval,
		RunOnStartup:  cfg.Pipeline.RunOnStartup,
	}))

	// The event bus is optional: without it, new-user registrations still
	// succeed but do not nudge the pipeline.
	var bus *trigger.Bus
	if cfg.Trigger.Enabled {
		bus = trigger.NewBus(cfg.Trigger)
		defer func() {
			if err := bus.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing event bus")
			}
		}()
		tree.AddPipelineService(services.NewTriggerService(trigger.NewListener(bus, orchestrator)))
		logging.Info().Str("topic", bus.Topic()).Msg("Registration trigger enabled")
	}

	// bus is nil when triggers are disabled; the handler treats a nil
	// publisher as "no event bus configured".
	var registrar api.RegistrationPublisher
	if bus != nil {
		registrar = bus
	}

	handler := api.NewHandler(
		recommendSvc,
		movieStore,
		interactionStore,
		stateStore,
		orchestrator,
		registrar,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	logging.Info().Str("addr", server.Addr).Msg("ReelRank ready")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree terminated")
	}

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within shutdown timeout")
		}
	}

	logging.Info().Msg("ReelRank stopped")
}
