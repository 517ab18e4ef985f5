// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package embedding generates movie embedding vectors for pipeline runs.
//
// Two providers are available: a local feature-hashing provider that needs no
// external service, and an HTTP provider for a remote embedding model. The
// HTTP provider is wrapped with a circuit breaker and a rate limiter so a
// slow or failing embedding service cannot stall pipeline runs indefinitely.
package embedding

import (
	"context"
	"fmt"

	"github.com/reelrank/reelrank/internal/config"
)

// Provider generates embedding vectors for a batch of texts. The returned
// slice is positionally aligned with the input.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	ModelVersion() string
}

// New builds the provider selected by the config. The HTTP provider is
// wrapped with circuit breaker protection; the local provider runs in-process
// and needs none.
func New(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return NewLocalProvider(cfg.ModelVersion, cfg.Dimension), nil
	case "http":
		client, err := NewHTTPProvider(cfg)
		if err != nil {
			return nil, err
		}
		return NewBreakerProvider(client), nil
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}
