// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package embedding

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/reelrank/reelrank/internal/logging"
	"github.com/reelrank/reelrank/internal/metrics"
)

const breakerName = "embedding-service"

// BreakerProvider wraps a Provider with a circuit breaker so a failing
// embedding service makes pipeline runs fail fast instead of piling up
// timed-out requests.
//
// Breaker configuration:
//   - Opens after a 60% failure rate with at least 10 requests
//   - 1 minute measurement window while closed
//   - 2 minute wait before probing recovery
//   - 3 concurrent requests allowed in half-open state
type BreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker[[][]float64]
}

// NewBreakerProvider wraps the given provider with circuit breaker
// protection.
func NewBreakerProvider(inner Provider) *BreakerProvider {
	logger := logging.With().Str("component", "embedding").Logger()
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[][]float64](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logger.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("opening embedding circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info().
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("embedding circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &BreakerProvider{inner: inner, cb: cb}
}

// Embed forwards to the wrapped provider under circuit breaker protection.
func (b *BreakerProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	start := time.Now()
	vectors, err := b.cb.Execute(func() ([][]float64, error) {
		return b.inner.Embed(ctx, texts)
	})
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.EmbeddingRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.EmbeddingRequests.WithLabelValues("failure").Inc()
		}
		return nil, err
	}

	metrics.EmbeddingRequests.WithLabelValues("success").Inc()
	return vectors, nil
}

// ModelVersion forwards to the wrapped provider.
func (b *BreakerProvider) ModelVersion() string { return b.inner.ModelVersion() }

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
