// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package services provides Suture service wrappers for ReelRank components.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelrank/reelrank/internal/logging"
	"github.com/reelrank/reelrank/internal/pipeline"
)

// PipelineRunner is the orchestrator surface the scheduler drives.
type PipelineRunner interface {
	Run(ctx context.Context, mode pipeline.Mode) (pipeline.Decision, error)
}

// SchedulerConfig holds the retraining scheduler settings.
type SchedulerConfig struct {
	// CheckInterval is how often the pipeline state is evaluated.
	CheckInterval time.Duration

	// RunOnStartup evaluates immediately when the service starts instead of
	// waiting for the first tick.
	RunOnStartup bool
}

// SchedulerService periodically asks the orchestrator to evaluate its
// triggers. Each tick is an auto-mode run: the orchestrator itself decides
// between full, incremental, and skip, so the scheduler carries no policy.
type SchedulerService struct {
	runner PipelineRunner
	config SchedulerConfig
	logger zerolog.Logger
	name   string
}

// NewSchedulerService creates the retraining scheduler.
func NewSchedulerService(runner PipelineRunner, cfg SchedulerConfig) *SchedulerService {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	return &SchedulerService{
		runner: runner,
		config: cfg,
		logger: logging.With().Str("component", "scheduler").Logger(),
		name:   "pipeline-scheduler",
	}
}

// Serve implements suture.Service. It ticks until the context is cancelled.
func (s *SchedulerService) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Bool("run_on_startup", s.config.RunOnStartup).
		Msg("pipeline scheduler starting")

	if s.config.RunOnStartup {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("pipeline scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one evaluation. A busy pipeline is not an error: the manual
// trigger or the registration listener got there first, and the next tick
// re-evaluates the same durable state.
func (s *SchedulerService) tick(ctx context.Context) {
	decision, err := s.runner.Run(ctx, pipeline.ModeAuto)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		s.logger.Debug().Msg("pipeline busy, scheduler tick skipped")
	case errors.Is(err, context.Canceled):
	case err != nil:
		s.logger.Warn().Err(err).Str("mode", string(decision.Mode)).Msg("scheduled pipeline run failed")
	}
}

// String returns the service name for supervision logs.
func (s *SchedulerService) String() string {
	return s.name
}
