// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/reelrank/config.yaml",
	"/etc/reelrank/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring CONFIG_PATH first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps environment variable names to koanf config paths.
// Unmapped variables are ignored so random environment does not pollute
// the configuration.
var envMappings = map[string]string{
	// Server
	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",

	// Store
	"store_path":        "store.path",
	"store_in_memory":   "store.in_memory",
	"store_gc_interval": "store.gc_interval",

	// Cache
	"recommendations_cache_ttl": "cache.recommendation_ttl",
	"popular_cache_ttl_factor":  "cache.popular_ttl_factor",
	"movie_cache_ttl":           "cache.movie_ttl",
	"cache_cleanup_interval":    "cache.cleanup_interval",

	// Recommend
	"recommend_default_limit": "recommend.default_limit",
	"recommend_max_limit":     "recommend.max_limit",
	"recommend_min_rating":    "recommend.min_rating",
	"recommend_exclude_seen":  "recommend.exclude_seen",

	// Pipeline
	"pipeline_retrain_interval":  "pipeline.retrain_interval",
	"min_interactions_threshold": "pipeline.min_interactions",
	"pipeline_check_interval":    "pipeline.check_interval",
	"pipeline_run_timeout":       "pipeline.run_timeout",
	"pipeline_model_path":        "pipeline.model_path",
	"pipeline_keep_snapshots":    "pipeline.keep_snapshots",
	"pipeline_run_on_startup":    "pipeline.run_on_startup",

	// Embedding
	"embedding_provider":   "embedding.provider",
	"model_version":        "embedding.model_version",
	"embedding_dimension":  "embedding.dimension",
	"embedding_endpoint":   "embedding.endpoint",
	"embedding_timeout":    "embedding.timeout",
	"embedding_rate_limit": "embedding.rate_limit",
	"embedding_batch_size": "embedding.batch_size",

	// Trigger
	"trigger_enabled":               "trigger.enabled",
	"trigger_user_registered_topic": "trigger.user_registered_topic",
	"trigger_buffer_size":           "trigger.buffer_size",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - RECOMMENDATIONS_CACHE_TTL -> cache.recommendation_ttl
//   - MIN_INTERACTIONS_THRESHOLD -> pipeline.min_interactions
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
