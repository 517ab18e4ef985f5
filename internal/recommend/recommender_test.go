// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package recommend

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/reelrank/reelrank/internal/vectorstore"
)

// testSnapshot builds a small catalog with easily reasoned-about vectors.
func testSnapshot() *vectorstore.Snapshot {
	snap := vectorstore.NewSnapshot("v1")
	snap.Vectors = map[string][]float64{
		"action1": {1, 0, 0},
		"action2": {0.9, 0.1, 0},
		"drama1":  {0, 1, 0},
		"drama2":  {0.1, 0.9, 0},
		"comedy1": {0, 0, 1},
		"zero1":   {0, 0, 0},
	}
	snap.Popularity = map[string]float64{
		"action1": 100,
		"action2": 80,
		"drama1":  90,
		"drama2":  70,
		"comedy1": 60,
		"zero1":   50,
	}
	return snap
}

func rated(userID, movieID string, rating float64) Interaction {
	return Interaction{UserID: userID, MovieID: movieID, Rating: rating, Timestamp: time.Now()}
}

func movieIDs(scored []ScoredMovie) []string {
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.MovieID
	}
	return ids
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero norm left", []float64{0, 0}, []float64{1, 1}, 0},
		{"zero norm right", []float64{1, 1}, []float64{0, 0}, 0},
		{"both zero", []float64{0, 0}, []float64{0, 0}, 0},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("CosineSimilarity(%v, %v) = %g, want %g", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestRecommendRanksByProfileSimilarity(t *testing.T) {
	r := NewRecommender(3.5)
	history := []Interaction{
		rated("u1", "action1", 5),
		rated("u1", "action2", 4),
	}

	got, err := r.Recommend(testSnapshot(), history, 10, true)
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}

	// Seen movies excluded; remaining ranked by similarity to the action
	// profile, with the zero-norm movie scored 0.
	for _, s := range got {
		if s.MovieID == "action1" || s.MovieID == "action2" {
			t.Errorf("seen movie %s must be excluded", s.MovieID)
		}
	}
	if got[0].MovieID != "drama2" {
		t.Errorf("top pick = %s, want drama2 (closest to action profile)", got[0].MovieID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not non-increasing at %d: %g > %g", i, got[i].Score, got[i-1].Score)
		}
	}
}

func TestRecommendDeterministic(t *testing.T) {
	r := NewRecommender(3.5)
	snap := testSnapshot()
	history := []Interaction{rated("u1", "drama1", 5)}

	first, err := r.Recommend(snap, history, 10, true)
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Recommend(snap, history, 10, true)
		if err != nil {
			t.Fatalf("Recommend() error: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\nfirst: %v\nagain: %v", i, first, again)
		}
	}
}

func TestRecommendTieBreaking(t *testing.T) {
	// Two candidates with identical similarity: higher popularity wins;
	// identical popularity falls back to lower movie ID.
	snap := vectorstore.NewSnapshot("v1")
	snap.Vectors = map[string][]float64{
		"liked": {1, 0},
		"b":     {0, 1},
		"a":     {0, 1},
		"c":     {0, 1},
	}
	snap.Popularity = map[string]float64{"liked": 1, "a": 5, "b": 5, "c": 9}

	r := NewRecommender(3.5)
	got, err := r.Recommend(snap, []Interaction{rated("u1", "liked", 5)}, 3, true)
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}

	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(movieIDs(got), want) {
		t.Errorf("order = %v, want %v", movieIDs(got), want)
	}
}

func TestRecommendInsufficientHistory(t *testing.T) {
	r := NewRecommender(3.5)

	tests := []struct {
		name    string
		history []Interaction
	}{
		{"no interactions", nil},
		{"only low ratings", []Interaction{rated("u1", "action1", 2)}},
		{"only unknown movies", []Interaction{rated("u1", "ghost", 5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Recommend(testSnapshot(), tt.history, 10, true)
			if !errors.Is(err, ErrInsufficientHistory) {
				t.Errorf("Recommend() = %v, want ErrInsufficientHistory", err)
			}
		})
	}
}

func TestRecommendNoSnapshot(t *testing.T) {
	r := NewRecommender(3.5)
	if _, err := r.Recommend(nil, []Interaction{rated("u1", "m", 5)}, 10, true); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Recommend(nil snapshot) = %v, want ErrNoSnapshot", err)
	}
}

func TestRecommendLimit(t *testing.T) {
	r := NewRecommender(3.5)
	history := []Interaction{rated("u1", "action1", 5)}

	got, err := r.Recommend(testSnapshot(), history, 2, true)
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}

	got, err = r.Recommend(testSnapshot(), history, 0, true)
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("k=0 should return empty list, got %d", len(got))
	}
}

func TestRecommendKeepSeen(t *testing.T) {
	r := NewRecommender(3.5)
	history := []Interaction{rated("u1", "action1", 5)}

	got, err := r.Recommend(testSnapshot(), history, 10, false)
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}

	found := false
	for _, s := range got {
		if s.MovieID == "action1" {
			found = true
		}
	}
	if !found {
		t.Error("excludeSeen=false should keep interacted movies in results")
	}
}

func TestRecommendRatingWeighting(t *testing.T) {
	// A 5-star action movie and a 3.5-star drama: the profile leans action.
	r := NewRecommender(3.5)
	history := []Interaction{
		rated("u1", "action1", 5),
		rated("u1", "drama1", 3.5),
	}

	got, err := r.Recommend(testSnapshot(), history, 10, true)
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}
	if got[0].MovieID != "action2" {
		t.Errorf("top pick = %s, want action2 (profile weighted toward the 5-star genre)", got[0].MovieID)
	}
}

func TestSimilarTo(t *testing.T) {
	r := NewRecommender(3.5)

	got, err := r.SimilarTo(testSnapshot(), "action1", 3)
	if err != nil {
		t.Fatalf("SimilarTo() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].MovieID != "action2" {
		t.Errorf("most similar to action1 = %s, want action2", got[0].MovieID)
	}
	for _, s := range got {
		if s.MovieID == "action1" {
			t.Error("SimilarTo must exclude the anchor movie")
		}
	}
}

func TestSimilarToUnknownMovie(t *testing.T) {
	r := NewRecommender(3.5)
	if _, err := r.SimilarTo(testSnapshot(), "ghost", 3); !errors.Is(err, ErrMovieNotFound) {
		t.Errorf("SimilarTo(ghost) = %v, want ErrMovieNotFound", err)
	}
}

func TestZeroNormAnchorScoresZero(t *testing.T) {
	r := NewRecommender(3.5)

	got, err := r.SimilarTo(testSnapshot(), "zero1", 10)
	if err != nil {
		t.Fatalf("SimilarTo() error: %v", err)
	}
	for _, s := range got {
		if s.Score != 0 {
			t.Errorf("similarity against zero-norm anchor = %g for %s, want 0", s.Score, s.MovieID)
		}
	}
}

func TestEmbeddingText(t *testing.T) {
	m := Movie{ID: "m1", Title: "Heat", Genres: []string{"Action", "Crime"}}
	if got := m.EmbeddingText(); got != "Heat Action Crime" {
		t.Errorf("EmbeddingText() = %q, want %q", got, "Heat Action Crime")
	}
}
