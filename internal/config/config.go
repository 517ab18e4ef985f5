// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package config loads and validates ReelRank configuration.
//
// Configuration is layered with clear precedence:
//
//	environment variables > config file (YAML) > built-in defaults
//
// See Load for the entry point.
package config

import (
	"time"
)

// Config is the root configuration for the ReelRank server.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Cache     CacheConfig     `koanf:"cache"`
	Recommend RecommendConfig `koanf:"recommend"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Trigger   TriggerConfig   `koanf:"trigger"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// StoreConfig holds the embedded database settings.
type StoreConfig struct {
	// Path is the Badger database directory.
	Path string `koanf:"path"`

	// InMemory runs Badger without disk persistence. Used in tests.
	InMemory bool `koanf:"in_memory"`

	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// CacheConfig holds recommendation cache settings.
type CacheConfig struct {
	// RecommendationTTL is how long per-user recommendation lists stay fresh.
	RecommendationTTL time.Duration `koanf:"recommendation_ttl"`

	// PopularTTLFactor multiplies RecommendationTTL for the popular-items
	// fallback list, which changes far more slowly than per-user lists.
	PopularTTLFactor int `koanf:"popular_ttl_factor"`

	// MovieTTL is how long movie metadata lookups stay cached.
	MovieTTL time.Duration `koanf:"movie_ttl"`

	// CleanupInterval is how often expired entries are evicted.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// RecommendConfig holds recommendation computation settings.
type RecommendConfig struct {
	// DefaultLimit is the number of recommendations returned when the
	// caller does not specify one.
	DefaultLimit int `koanf:"default_limit"`

	// MaxLimit caps the number of recommendations a caller may request.
	MaxLimit int `koanf:"max_limit"`

	// MinRating is the lowest rating that counts as a positive signal
	// when building a user's taste profile.
	MinRating float64 `koanf:"min_rating"`

	// ExcludeSeen removes movies the user already interacted with from
	// results by default.
	ExcludeSeen bool `koanf:"exclude_seen"`
}

// PipelineConfig holds retraining pipeline settings.
type PipelineConfig struct {
	// RetrainInterval is the elapsed time since the last successful full
	// run after which the next run is promoted to a full retrain.
	RetrainInterval time.Duration `koanf:"retrain_interval"`

	// MinInteractions is the interaction-counter threshold that triggers
	// an incremental run.
	MinInteractions int64 `koanf:"min_interactions"`

	// CheckInterval is how often the scheduler evaluates whether a run
	// is due.
	CheckInterval time.Duration `koanf:"check_interval"`

	// RunTimeout bounds a single pipeline run.
	RunTimeout time.Duration `koanf:"run_timeout"`

	// ModelPath is the directory for persisted embedding snapshots.
	ModelPath string `koanf:"model_path"`

	// KeepSnapshots is how many persisted snapshot versions to retain;
	// older files are pruned after each successful run.
	KeepSnapshots int `koanf:"keep_snapshots"`

	// RunOnStartup executes a pipeline evaluation immediately at boot.
	RunOnStartup bool `koanf:"run_on_startup"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: local or http.
	Provider string `koanf:"provider"`

	// ModelVersion tags snapshots; swaps between versions are rejected.
	ModelVersion string `koanf:"model_version"`

	// Dimension is the embedding vector length.
	Dimension int `koanf:"dimension"`

	// Endpoint is the HTTP embedding service URL (provider: http).
	Endpoint string `koanf:"endpoint"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the maximum embedding requests per second.
	RateLimit float64 `koanf:"rate_limit"`

	// BatchSize is the number of texts embedded per request.
	BatchSize int `koanf:"batch_size"`
}

// TriggerConfig holds event-trigger settings.
type TriggerConfig struct {
	// Enabled turns on the in-process event bus that bootstraps
	// recommendations for newly registered users.
	Enabled bool `koanf:"enabled"`

	// UserRegisteredTopic is the topic carrying registration events.
	UserRegisteredTopic string `koanf:"user_registered_topic"`

	// BufferSize is the per-topic channel buffer.
	BufferSize int `koanf:"buffer_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Path:       "/data/reelrank",
			InMemory:   false,
			GCInterval: 10 * time.Minute,
		},
		Cache: CacheConfig{
			RecommendationTTL: 24 * time.Hour,
			PopularTTLFactor:  10,
			MovieTTL:          7 * 24 * time.Hour,
			CleanupInterval:   5 * time.Minute,
		},
		Recommend: RecommendConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
			MinRating:    3.5,
			ExcludeSeen:  true,
		},
		Pipeline: PipelineConfig{
			RetrainInterval: 7 * 24 * time.Hour,
			MinInteractions: 50,
			CheckInterval:   time.Minute,
			RunTimeout:      30 * time.Minute,
			ModelPath:       "/data/reelrank/models",
			KeepSnapshots:   3,
			RunOnStartup:    false,
		},
		Embedding: EmbeddingConfig{
			Provider:     "local",
			ModelVersion: "v1",
			Dimension:    128,
			Endpoint:     "",
			Timeout:      30 * time.Second,
			RateLimit:    10,
			BatchSize:    64,
		},
		Trigger: TriggerConfig{
			Enabled:             true,
			UserRegisteredTopic: "user.registered",
			BufferSize:          64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
