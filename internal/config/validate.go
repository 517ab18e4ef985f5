// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for values that would misbehave at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return errors.New("server.timeout must be positive")
	}

	if !c.Store.InMemory && c.Store.Path == "" {
		return errors.New("store.path is required unless store.in_memory is set")
	}

	if c.Cache.RecommendationTTL <= 0 {
		return errors.New("cache.recommendation_ttl must be positive")
	}
	if c.Cache.PopularTTLFactor < 1 {
		return fmt.Errorf("cache.popular_ttl_factor must be >= 1, got %d", c.Cache.PopularTTLFactor)
	}
	if c.Cache.MovieTTL <= 0 {
		return errors.New("cache.movie_ttl must be positive")
	}

	if c.Recommend.DefaultLimit < 1 {
		return fmt.Errorf("recommend.default_limit must be >= 1, got %d", c.Recommend.DefaultLimit)
	}
	if c.Recommend.MaxLimit < c.Recommend.DefaultLimit {
		return fmt.Errorf("recommend.max_limit (%d) must be >= recommend.default_limit (%d)",
			c.Recommend.MaxLimit, c.Recommend.DefaultLimit)
	}
	if c.Recommend.MinRating < 0 || c.Recommend.MinRating > 5 {
		return fmt.Errorf("recommend.min_rating must be 0-5, got %g", c.Recommend.MinRating)
	}

	if c.Pipeline.RetrainInterval <= 0 {
		return errors.New("pipeline.retrain_interval must be positive")
	}
	if c.Pipeline.MinInteractions < 1 {
		return fmt.Errorf("pipeline.min_interactions must be >= 1, got %d", c.Pipeline.MinInteractions)
	}
	if c.Pipeline.CheckInterval <= 0 {
		return errors.New("pipeline.check_interval must be positive")
	}
	if c.Pipeline.RunTimeout <= 0 {
		return errors.New("pipeline.run_timeout must be positive")
	}
	if c.Pipeline.ModelPath == "" {
		return errors.New("pipeline.model_path is required")
	}
	if c.Pipeline.KeepSnapshots < 1 {
		return fmt.Errorf("pipeline.keep_snapshots must be >= 1, got %d", c.Pipeline.KeepSnapshots)
	}

	switch c.Embedding.Provider {
	case "local":
	case "http":
		if c.Embedding.Endpoint == "" {
			return errors.New("embedding.endpoint is required when embedding.provider is http")
		}
	default:
		return fmt.Errorf("embedding.provider must be local or http, got %q", c.Embedding.Provider)
	}
	if c.Embedding.ModelVersion == "" {
		return errors.New("embedding.model_version is required")
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding.dimension must be >= 1, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.RateLimit <= 0 {
		return errors.New("embedding.rate_limit must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("embedding.batch_size must be >= 1, got %d", c.Embedding.BatchSize)
	}

	if c.Trigger.Enabled {
		if c.Trigger.UserRegisteredTopic == "" {
			return errors.New("trigger.user_registered_topic is required when trigger.enabled is set")
		}
		if c.Trigger.BufferSize < 1 {
			return fmt.Errorf("trigger.buffer_size must be >= 1, got %d", c.Trigger.BufferSize)
		}
	}

	return nil
}
