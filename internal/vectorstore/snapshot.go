// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package vectorstore holds the movie embedding snapshot consumed by the
// recommender and replaced by pipeline runs.
//
// A Snapshot is immutable once published. The Store hands out the current
// snapshot to readers and swaps in complete replacements atomically, so a
// reader in flight during a swap finishes against the snapshot it started
// with and never observes a half-updated vector set.
package vectorstore

import (
	"time"
)

// Snapshot is an immutable set of movie embeddings plus the popularity
// scores used for tie-breaking. Never mutate a published snapshot; build a
// new one and swap it in.
type Snapshot struct {
	// ModelVersion tags the embedding model that produced these vectors.
	// Swaps between different versions are rejected unless forced.
	ModelVersion string

	// CreatedAt is when the snapshot was built.
	CreatedAt time.Time

	// Vectors maps movie ID to its embedding.
	Vectors map[string][]float64

	// Popularity maps movie ID to its raw popularity score.
	Popularity map[string]float64

	// AddedAt maps movie ID to its catalog timestamp. The popular list
	// falls back to it when interaction counts cannot break a tie, so a
	// cold catalog serves newest movies first.
	AddedAt map[string]time.Time
}

// NewSnapshot creates an empty snapshot for the given model version.
func NewSnapshot(modelVersion string) *Snapshot {
	return &Snapshot{
		ModelVersion: modelVersion,
		CreatedAt:    time.Now(),
		Vectors:      make(map[string][]float64),
		Popularity:   make(map[string]float64),
		AddedAt:      make(map[string]time.Time),
	}
}

// Len returns the number of movies in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Vectors)
}

// Vector returns the embedding for a movie ID.
func (s *Snapshot) Vector(movieID string) ([]float64, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Vectors[movieID]
	return v, ok
}

// PopularityOf returns the popularity score for a movie ID, or 0 if unknown.
func (s *Snapshot) PopularityOf(movieID string) float64 {
	if s == nil {
		return 0
	}
	return s.Popularity[movieID]
}

// AddedAtOf returns the catalog timestamp for a movie ID, or the zero time
// if unknown.
func (s *Snapshot) AddedAtOf(movieID string) time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.AddedAt[movieID]
}

// Merge returns a new snapshot containing this snapshot's entries with the
// other snapshot's entries layered on top. Neither input is modified, which
// keeps published snapshots immutable during incremental pipeline runs.
func (s *Snapshot) Merge(delta *Snapshot) *Snapshot {
	merged := &Snapshot{
		ModelVersion: s.ModelVersion,
		CreatedAt:    time.Now(),
		Vectors:      make(map[string][]float64, len(s.Vectors)+delta.Len()),
		Popularity:   make(map[string]float64, len(s.Popularity)+len(delta.Popularity)),
		AddedAt:      make(map[string]time.Time, len(s.AddedAt)+len(delta.AddedAt)),
	}

	for id, vec := range s.Vectors {
		merged.Vectors[id] = vec
	}
	for id, pop := range s.Popularity {
		merged.Popularity[id] = pop
	}
	for id, at := range s.AddedAt {
		merged.AddedAt[id] = at
	}

	if delta != nil {
		for id, vec := range delta.Vectors {
			merged.Vectors[id] = vec
		}
		for id, pop := range delta.Popularity {
			merged.Popularity[id] = pop
		}
		for id, at := range delta.AddedAt {
			merged.AddedAt[id] = at
		}
	}

	return merged
}
