// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package recommend turns movie embeddings and user rating history into
// ranked recommendation lists.
//
// The Recommender is stateless: given an embedding snapshot and an
// interaction history it always produces the same ordered output, so
// recomputation after a pipeline run is deterministic and testable. The
// Service wraps it with caching and the popular-items fallback.
package recommend

import (
	"strings"
	"time"
)

// Movie is the catalog entry consumed by the recommender. Embeddings are
// derived from its text features during pipeline runs and live in the
// vector store, not here.
type Movie struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Genres    []string  `json:"genres"`
	Year      int       `json:"year,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbeddingText returns the text the embedding provider encodes for this
// movie: the title followed by its genres.
func (m *Movie) EmbeddingText() string {
	parts := make([]string, 0, 1+len(m.Genres))
	parts = append(parts, m.Title)
	parts = append(parts, m.Genres...)
	return strings.Join(parts, " ")
}

// Interaction is a single user signal against a movie. Interactions are
// append-only and never mutated.
type Interaction struct {
	UserID    string    `json:"user_id"`
	MovieID   string    `json:"movie_id"`
	Rating    float64   `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoredMovie is one entry of a ranked recommendation list.
type ScoredMovie struct {
	MovieID string  `json:"movie_id"`
	Score   float64 `json:"score"`
}
