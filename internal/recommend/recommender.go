// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package recommend

import (
	"math"
	"sort"

	"github.com/reelrank/reelrank/internal/vectorstore"
)

// Recommender ranks unseen movies by cosine similarity between their
// embeddings and a profile vector built from the user's positively rated
// movies. It holds configuration only; all inputs arrive per call.
type Recommender struct {
	// minRating is the lowest rating that counts as a positive signal.
	minRating float64
}

// NewRecommender creates a Recommender. Ratings below minRating do not
// contribute to the user's taste profile.
func NewRecommender(minRating float64) *Recommender {
	return &Recommender{minRating: minRating}
}

// Recommend returns up to k movies ranked by similarity to the user's taste
// profile. Movies the user has already interacted with are excluded when
// excludeSeen is set. Returns ErrInsufficientHistory when no qualifying
// interaction has an embedding in the snapshot, and ErrNoSnapshot when snap
// is nil or empty.
func (r *Recommender) Recommend(snap *vectorstore.Snapshot, history []Interaction, k int, excludeSeen bool) ([]ScoredMovie, error) {
	if snap.Len() == 0 {
		return nil, ErrNoSnapshot
	}
	if k <= 0 {
		return []ScoredMovie{}, nil
	}

	profile, seen := r.profileVector(snap, history)
	if profile == nil {
		return nil, ErrInsufficientHistory
	}

	var exclude map[string]struct{}
	if excludeSeen {
		exclude = seen
	}

	return rank(snap, profile, k, exclude, ""), nil
}

// SimilarTo returns up to k movies most similar to the given movie,
// excluding the movie itself. Returns ErrMovieNotFound when the movie has
// no embedding in the snapshot.
func (r *Recommender) SimilarTo(snap *vectorstore.Snapshot, movieID string, k int) ([]ScoredMovie, error) {
	if snap.Len() == 0 {
		return nil, ErrNoSnapshot
	}

	anchor, ok := snap.Vector(movieID)
	if !ok {
		return nil, ErrMovieNotFound
	}
	if k <= 0 {
		return []ScoredMovie{}, nil
	}

	return rank(snap, anchor, k, nil, movieID), nil
}

// profileVector builds the rating-weighted mean of the embeddings for the
// user's qualifying interactions. It also returns the full seen set (every
// movie the user interacted with, qualifying or not) for exclusion.
// Returns a nil profile when no qualifying interaction has an embedding.
func (r *Recommender) profileVector(snap *vectorstore.Snapshot, history []Interaction) (profile []float64, seen map[string]struct{}) {
	seen = make(map[string]struct{}, len(history))

	var weightSum float64
	for _, inter := range history {
		seen[inter.MovieID] = struct{}{}

		if inter.Rating < r.minRating {
			continue
		}
		vec, ok := snap.Vector(inter.MovieID)
		if !ok {
			continue
		}

		weight := inter.Rating / 5.0
		if weight <= 0 {
			continue
		}

		if profile == nil {
			profile = make([]float64, len(vec))
		}
		for i := range vec {
			profile[i] += weight * vec[i]
		}
		weightSum += weight
	}

	if profile == nil || weightSum == 0 {
		return nil, seen
	}
	for i := range profile {
		profile[i] /= weightSum
	}
	return profile, seen
}

// rank scores every candidate in the snapshot against the query vector and
// returns the top k. Ordering is deterministic: score descending, then raw
// popularity descending, then movie ID ascending.
func rank(snap *vectorstore.Snapshot, query []float64, k int, exclude map[string]struct{}, skipID string) []ScoredMovie {
	scored := make([]ScoredMovie, 0, snap.Len())
	for id, vec := range snap.Vectors {
		if id == skipID {
			continue
		}
		if _, ok := exclude[id]; ok {
			continue
		}
		scored = append(scored, ScoredMovie{MovieID: id, Score: CosineSimilarity(query, vec)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		pi, pj := snap.PopularityOf(scored[i].MovieID), snap.PopularityOf(scored[j].MovieID)
		if pi != pj {
			return pi > pj
		}
		return scored[i].MovieID < scored[j].MovieID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// CosineSimilarity computes the cosine of the angle between two vectors:
// dot product over the product of L2 norms. A zero-norm vector (or a length
// mismatch) yields 0 rather than dividing by zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
