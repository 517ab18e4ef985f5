// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package recommend

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelrank/reelrank/internal/cache"
	"github.com/reelrank/reelrank/internal/logging"
	"github.com/reelrank/reelrank/internal/metrics"
	"github.com/reelrank/reelrank/internal/vectorstore"
)

// InteractionReader provides read-only access to a user's interaction
// history.
type InteractionReader interface {
	ReadForUser(ctx context.Context, userID string) ([]Interaction, error)
}

// ServiceConfig holds the tunables for the recommendation service.
type ServiceConfig struct {
	DefaultLimit      int
	MaxLimit          int
	MinRating         float64
	ExcludeSeen       bool
	RecommendationTTL time.Duration
	PopularTTL        time.Duration
	MovieTTL          time.Duration
	CleanupInterval   time.Duration
}

// Result is a ranked recommendation list plus how it was produced.
type Result struct {
	Movies []ScoredMovie `json:"movies"`
	// Fallback is set when the list came from the popular-items path
	// rather than a personalized computation.
	Fallback bool `json:"fallback"`
}

// Service serves recommendation requests through the cache layer, falling
// back to the popular-items list when a user has no usable history.
type Service struct {
	cfg          ServiceConfig
	recommender  *Recommender
	vectors      *vectorstore.Store
	interactions InteractionReader
	recCache     *cache.Cache
	popCache     *cache.Cache
	logger       zerolog.Logger
}

// NewService wires the recommendation service. The per-user cache uses
// RecommendationTTL; the user-independent cache holds popular and
// similar-movie lists with their own, longer TTLs.
func NewService(cfg ServiceConfig, vectors *vectorstore.Store, interactions InteractionReader) *Service {
	return &Service{
		cfg:          cfg,
		recommender:  NewRecommender(cfg.MinRating),
		vectors:      vectors,
		interactions: interactions,
		recCache:     cache.New("recommendations", cfg.RecommendationTTL, cfg.CleanupInterval),
		popCache:     cache.New("popular", cfg.PopularTTL, cfg.CleanupInterval),
		logger:       logging.With().Str("component", "recommend").Logger(),
	}
}

// Close releases the cache cleanup goroutines.
func (s *Service) Close() {
	s.recCache.Close()
	s.popCache.Close()
}

// Recommendations returns up to limit personalized recommendations for the
// user. When the user has no qualifying history, or no snapshot is
// available, it serves the popular-items fallback instead of an error.
func (s *Service) Recommendations(ctx context.Context, userID string, limit int) (*Result, error) {
	limit = s.clampLimit(limit)
	start := time.Now()

	key := fmt.Sprintf("%s%d:%t", userKeyPrefix(userID), limit, s.cfg.ExcludeSeen)
	value, err := s.recCache.GetOrCompute(ctx, key, func(ctx context.Context) (interface{}, error) {
		return s.computePersonalized(ctx, userID, limit)
	})

	switch {
	case err == nil:
		metrics.RecordRecommendation("personalized", time.Since(start), nil)
		return &Result{Movies: value.([]ScoredMovie)}, nil

	case errors.Is(err, ErrInsufficientHistory), errors.Is(err, ErrNoSnapshot):
		s.logger.Debug().
			Str("user_id", userID).
			AnErr("reason", err).
			Msg("falling back to popular items")
		return s.fallback(ctx, limit)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.RecordRecommendation("personalized", time.Since(start), err)
		return nil, err

	default:
		// Upstream read failures degrade to the fallback list rather than
		// surfacing an error to the user.
		s.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Msg("personalized computation failed, serving popular items")
		metrics.RecordRecommendation("personalized", time.Since(start), err)
		return s.fallback(ctx, limit)
	}
}

// computePersonalized reads the user's history and ranks candidates against
// the active snapshot.
func (s *Service) computePersonalized(ctx context.Context, userID string, limit int) ([]ScoredMovie, error) {
	snap := s.vectors.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}

	history, err := s.interactions.ReadForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read interactions for %s: %w", userID, err)
	}

	return s.recommender.Recommend(snap, history, limit, s.cfg.ExcludeSeen)
}

// Popular returns up to limit movies from the popular-items list.
func (s *Service) Popular(ctx context.Context, limit int) ([]ScoredMovie, error) {
	limit = s.clampLimit(limit)
	start := time.Now()

	key := fmt.Sprintf("popular:%d", limit)
	value, err := s.popCache.GetOrComputeTTL(ctx, key, s.cfg.PopularTTL, func(context.Context) (interface{}, error) {
		return Popular(s.vectors.Current(), limit)
	})
	metrics.RecordRecommendation("popular", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return value.([]ScoredMovie), nil
}

// Similar returns up to limit movies most similar to the given movie.
// Results change only when embeddings change, so they live in the
// user-independent cache with the movie TTL.
func (s *Service) Similar(ctx context.Context, movieID string, limit int) ([]ScoredMovie, error) {
	limit = s.clampLimit(limit)
	start := time.Now()

	key := fmt.Sprintf("similar:%s:%d", movieID, limit)
	value, err := s.popCache.GetOrComputeTTL(ctx, key, s.cfg.MovieTTL, func(context.Context) (interface{}, error) {
		return s.recommender.SimilarTo(s.vectors.Current(), movieID, limit)
	})
	metrics.RecordRecommendation("similar", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return value.([]ScoredMovie), nil
}

// fallback serves the popular-items list in place of a personalized result.
func (s *Service) fallback(ctx context.Context, limit int) (*Result, error) {
	movies, err := s.Popular(ctx, limit)
	if err != nil {
		return nil, err
	}
	metrics.RecommendFallbacks.Inc()
	return &Result{Movies: movies, Fallback: true}, nil
}

// userKeyPrefix builds the cache key prefix for a user's recommendation
// lists. The ID is escaped so IDs containing the key separator cannot match
// another user's prefix.
func userKeyPrefix(userID string) string {
	return "rec:" + url.QueryEscape(userID) + ":"
}

// InvalidateUser force-expires every cached list for the user, typically
// after a profile-affecting interaction.
func (s *Service) InvalidateUser(userID string) {
	removed := s.recCache.DeletePrefix(userKeyPrefix(userID))
	metrics.CacheInvalidations.WithLabelValues("recommendations", "user").Inc()
	s.logger.Debug().
		Str("user_id", userID).
		Int("removed", removed).
		Msg("invalidated user recommendations")
}

// InvalidateAll force-expires every cached list, personalized and popular.
// Called after a full retrain replaces the embedding snapshot.
func (s *Service) InvalidateAll() {
	s.recCache.Clear()
	s.popCache.Clear()
	metrics.CacheInvalidations.WithLabelValues("recommendations", "all").Inc()
	metrics.CacheInvalidations.WithLabelValues("popular", "all").Inc()
	s.logger.Info().Msg("invalidated all recommendation caches")
}

// clampLimit applies the default and maximum request limits.
func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}
