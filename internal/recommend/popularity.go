// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package recommend

import (
	"sort"

	"github.com/reelrank/reelrank/internal/vectorstore"
)

// Popular returns up to k movies from the snapshot ranked by raw popularity
// descending, ties broken by most recently added, then movie ID ascending.
// With no interactions at all every popularity is zero and the list serves
// the newest movies first. Used as the fallback when a user has no
// qualifying history.
func Popular(snap *vectorstore.Snapshot, k int) ([]ScoredMovie, error) {
	if snap.Len() == 0 {
		return nil, ErrNoSnapshot
	}
	if k <= 0 {
		return []ScoredMovie{}, nil
	}

	scored := make([]ScoredMovie, 0, snap.Len())
	for id := range snap.Vectors {
		scored = append(scored, ScoredMovie{MovieID: id, Score: snap.PopularityOf(id)})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		ai, aj := snap.AddedAtOf(scored[i].MovieID), snap.AddedAtOf(scored[j].MovieID)
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return scored[i].MovieID < scored[j].MovieID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// PopularityFromInteractions counts interactions per movie. The pipeline
// uses these counts as the popularity scores baked into each snapshot.
func PopularityFromInteractions(interactions []Interaction) map[string]float64 {
	counts := make(map[string]float64)
	for _, inter := range interactions {
		counts[inter.MovieID]++
	}
	return counts
}
