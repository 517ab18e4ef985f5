// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package trigger

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/reelrank/reelrank/internal/logging"
	"github.com/reelrank/reelrank/internal/metrics"
	"github.com/reelrank/reelrank/internal/pipeline"
)

// PipelineRunner is the subset of the orchestrator the listener needs.
type PipelineRunner interface {
	Run(ctx context.Context, mode pipeline.Mode) (pipeline.Decision, error)
}

// Listener consumes registration events and nudges the pipeline. Each event
// requests an auto-mode evaluation; if a run is already active the event is
// simply dropped, because the active run will cover the new user's data.
type Listener struct {
	bus    *Bus
	runner PipelineRunner
	logger zerolog.Logger
}

// NewListener wires a listener to the bus and orchestrator.
func NewListener(bus *Bus, runner PipelineRunner) *Listener {
	return &Listener{
		bus:    bus,
		runner: runner,
		logger: logging.With().Str("component", "trigger").Logger(),
	}
}

// Listen consumes events until ctx is cancelled or the bus closes.
func (l *Listener) Listen(ctx context.Context) error {
	messages, err := l.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			l.handle(ctx, msg)
		}
	}
}

func (l *Listener) handle(ctx context.Context, msg *message.Message) {
	// Always ack: registration events are best-effort nudges, and the
	// scheduler re-evaluates the same state on its next tick anyway.
	defer msg.Ack()

	var event UserRegistered
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		metrics.TriggerEvents.WithLabelValues(l.bus.Topic(), "malformed").Inc()
		l.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed registration event")
		return
	}

	decision, err := l.runner.Run(ctx, pipeline.ModeAuto)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		metrics.TriggerEvents.WithLabelValues(l.bus.Topic(), "dropped").Inc()
		l.logger.Debug().Str("user_id", event.UserID).Msg("pipeline busy, registration event dropped")
	case err != nil:
		metrics.TriggerEvents.WithLabelValues(l.bus.Topic(), "failure").Inc()
		l.logger.Error().Err(err).Str("user_id", event.UserID).Msg("pipeline run from registration event failed")
	default:
		metrics.TriggerEvents.WithLabelValues(l.bus.Topic(), "processed").Inc()
		l.logger.Info().
			Str("user_id", event.UserID).
			Str("mode", string(decision.Mode)).
			Msg("registration event processed")
	}
}
