// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package recommend

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reelrank/reelrank/internal/vectorstore"
)

// fakeInteractions is an in-memory InteractionReader that counts reads.
type fakeInteractions struct {
	byUser map[string][]Interaction
	err    error
	reads  int32
}

func (f *fakeInteractions) ReadForUser(_ context.Context, userID string) ([]Interaction, error) {
	atomic.AddInt32(&f.reads, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.byUser[userID], nil
}

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultLimit:      10,
		MaxLimit:          50,
		MinRating:         3.5,
		ExcludeSeen:       true,
		RecommendationTTL: time.Minute,
		PopularTTL:        10 * time.Minute,
		MovieTTL:          time.Hour,
	}
}

func newTestService(t *testing.T, interactions *fakeInteractions) *Service {
	t.Helper()
	svc := NewService(testServiceConfig(), vectorstore.New(testSnapshot()), interactions)
	t.Cleanup(svc.Close)
	return svc
}

func TestServicePersonalized(t *testing.T) {
	reader := &fakeInteractions{byUser: map[string][]Interaction{
		"u1": {rated("u1", "action1", 5)},
	}}
	svc := newTestService(t, reader)

	res, err := svc.Recommendations(context.Background(), "u1", 5)
	if err != nil {
		t.Fatalf("Recommendations() error: %v", err)
	}
	if res.Fallback {
		t.Error("expected personalized result, got fallback")
	}
	if len(res.Movies) == 0 {
		t.Fatal("expected non-empty recommendations")
	}
	for _, m := range res.Movies {
		if m.MovieID == "action1" {
			t.Error("seen movie must be excluded")
		}
	}
}

func TestServiceCachesPerUser(t *testing.T) {
	reader := &fakeInteractions{byUser: map[string][]Interaction{
		"u1": {rated("u1", "action1", 5)},
	}}
	svc := newTestService(t, reader)

	for i := 0; i < 3; i++ {
		if _, err := svc.Recommendations(context.Background(), "u1", 5); err != nil {
			t.Fatalf("Recommendations() error: %v", err)
		}
	}

	if n := atomic.LoadInt32(&reader.reads); n != 1 {
		t.Errorf("history read %d times, want 1 (cached)", n)
	}
}

func TestServiceFallbackOnNoHistory(t *testing.T) {
	svc := newTestService(t, &fakeInteractions{byUser: map[string][]Interaction{}})

	res, err := svc.Recommendations(context.Background(), "newcomer", 3)
	if err != nil {
		t.Fatalf("Recommendations() error: %v", err)
	}
	if !res.Fallback {
		t.Error("user without history must get the fallback list")
	}
	if len(res.Movies) != 3 {
		t.Fatalf("len = %d, want 3", len(res.Movies))
	}
	// Popular list ranks by raw popularity.
	if res.Movies[0].MovieID != "action1" {
		t.Errorf("top popular = %s, want action1", res.Movies[0].MovieID)
	}
}

func TestServiceFallbackOnReadFailure(t *testing.T) {
	reader := &fakeInteractions{err: errors.New("store offline")}
	svc := newTestService(t, reader)

	res, err := svc.Recommendations(context.Background(), "u1", 3)
	if err != nil {
		t.Fatalf("read failure should degrade to fallback, got error: %v", err)
	}
	if !res.Fallback {
		t.Error("expected fallback result on upstream read failure")
	}
}

func TestServiceNoSnapshotFallsBackToError(t *testing.T) {
	// With no snapshot at all, even the popular list cannot be served.
	svc := NewService(testServiceConfig(), vectorstore.New(nil), &fakeInteractions{})
	t.Cleanup(svc.Close)

	_, err := svc.Recommendations(context.Background(), "u1", 3)
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Recommendations() = %v, want ErrNoSnapshot", err)
	}
}

func TestServiceInvalidateUser(t *testing.T) {
	reader := &fakeInteractions{byUser: map[string][]Interaction{
		"u1": {rated("u1", "action1", 5)},
	}}
	svc := newTestService(t, reader)

	if _, err := svc.Recommendations(context.Background(), "u1", 5); err != nil {
		t.Fatalf("Recommendations() error: %v", err)
	}
	svc.InvalidateUser("u1")
	if _, err := svc.Recommendations(context.Background(), "u1", 5); err != nil {
		t.Fatalf("Recommendations() error: %v", err)
	}

	if n := atomic.LoadInt32(&reader.reads); n != 2 {
		t.Errorf("history read %d times, want 2 after invalidation", n)
	}
}

func TestServiceInvalidateAll(t *testing.T) {
	reader := &fakeInteractions{byUser: map[string][]Interaction{
		"u1": {rated("u1", "action1", 5)},
	}}
	svc := newTestService(t, reader)

	if _, err := svc.Recommendations(context.Background(), "u1", 5); err != nil {
		t.Fatalf("Recommendations() error: %v", err)
	}
	if _, err := svc.Popular(context.Background(), 5); err != nil {
		t.Fatalf("Popular() error: %v", err)
	}

	svc.InvalidateAll()

	if _, err := svc.Recommendations(context.Background(), "u1", 5); err != nil {
		t.Fatalf("Recommendations() error: %v", err)
	}
	if n := atomic.LoadInt32(&reader.reads); n != 2 {
		t.Errorf("history read %d times, want 2 after global invalidation", n)
	}
}

func TestServiceSimilar(t *testing.T) {
	svc := newTestService(t, &fakeInteractions{})

	got, err := svc.Similar(context.Background(), "action1", 2)
	if err != nil {
		t.Fatalf("Similar() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].MovieID != "action2" {
		t.Errorf("most similar = %s, want action2", got[0].MovieID)
	}
}

func TestServiceSimilarUnknownMovie(t *testing.T) {
	svc := newTestService(t, &fakeInteractions{})

	if _, err := svc.Similar(context.Background(), "ghost", 2); !errors.Is(err, ErrMovieNotFound) {
		t.Errorf("Similar(ghost) = %v, want ErrMovieNotFound", err)
	}
}

func TestServiceLimitClamping(t *testing.T) {
	reader := &fakeInteractions{byUser: map[string][]Interaction{
		"u1": {rated("u1", "action1", 5)},
	}}
	svc := newTestService(t, reader)

	// Zero limit uses the default.
	res, err := svc.Recommendations(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("Recommendations() error: %v", err)
	}
	if len(res.Movies) == 0 {
		t.Error("zero limit should use the default limit, not return nothing")
	}

	// Oversized limit is capped, not rejected.
	if _, err := svc.Recommendations(context.Background(), "u1", 10_000); err != nil {
		t.Fatalf("Recommendations() with oversized limit: %v", err)
	}
}

func TestServiceInvalidateUserScopedToExactID(t *testing.T) {
	// "u1:5" keyed naively would sit under the "rec:u1:" prefix and vanish
	// with u1's invalidation.
	reader := &fakeInteractions{byUser: map[string][]Interaction{
		"u1":   {rated("u1", "action1", 5)},
		"u1:5": {rated("u1:5", "drama1", 5)},
	}}
	svc := newTestService(t, reader)

	if _, err := svc.Recommendations(context.Background(), "u1", 5); err != nil {
		t.Fatalf("Recommendations(u1) error: %v", err)
	}
	if _, err := svc.Recommendations(context.Background(), "u1:5", 5); err != nil {
		t.Fatalf("Recommendations(u1:5) error: %v", err)
	}

	svc.InvalidateUser("u1")

	if _, err := svc.Recommendations(context.Background(), "u1:5", 5); err != nil {
		t.Fatalf("Recommendations(u1:5) error: %v", err)
	}
	if n := atomic.LoadInt32(&reader.reads); n != 2 {
		t.Errorf("history read %d times, want 2 (u1:5 must survive u1's invalidation)", n)
	}

	if _, err := svc.Recommendations(context.Background(), "u1", 5); err != nil {
		t.Fatalf("Recommendations(u1) error: %v", err)
	}
	if n := atomic.LoadInt32(&reader.reads); n != 3 {
		t.Errorf("history read %d times, want 3 (u1 itself must recompute)", n)
	}
}

func TestPopularNoInteractionsServesNewestFirst(t *testing.T) {
	// A cold catalog has no interaction counts; the popular list falls back
	// to the most recently added movies.
	snap := vectorstore.NewSnapshot("v1")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap.Vectors = map[string][]float64{
		"oldest": {1, 0},
		"middle": {0, 1},
		"newest": {1, 1},
	}
	snap.AddedAt = map[string]time.Time{
		"oldest": base,
		"middle": base.Add(24 * time.Hour),
		"newest": base.Add(48 * time.Hour),
	}

	got, err := Popular(snap, 3)
	if err != nil {
		t.Fatalf("Popular() error: %v", err)
	}

	want := []string{"newest", "middle", "oldest"}
	if !reflect.DeepEqual(movieIDs(got), want) {
		t.Errorf("order = %v, want %v", movieIDs(got), want)
	}
}

func TestPopularityFromInteractions(t *testing.T) {
	counts := PopularityFromInteractions([]Interaction{
		rated("u1", "m1", 5),
		rated("u2", "m1", 2),
		rated("u3", "m2", 4),
	})
	if counts["m1"] != 2 || counts["m2"] != 1 {
		t.Errorf("counts = %v, want m1:2 m2:1", counts)
	}
}
