// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/reelrank/reelrank/internal/recommend"
	"github.com/reelrank/reelrank/internal/vectorstore"
)

// fakeEmbedder produces deterministic unit vectors keyed by input order.
type fakeEmbedder struct {
	version string
	err     error
	block   chan struct{} // when set, Embed waits until closed
	onEmbed func()        // when set, runs before each embedding batch
	calls   int
	mu      sync.Mutex
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.onEmbed != nil {
		f.onEmbed()
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	vectors := make([][]float64, len(texts))
	for i := range texts {
		vec := make([]float64, 4)
		vec[i%4] = 1
		vectors[i] = vec
	}
	return vectors, nil
}

func (f *fakeEmbedder) ModelVersion() string { return f.version }

// fakeCatalog implements MovieReader and InteractionLog in memory.
type fakeCatalog struct {
	movies       []recommend.Movie
	interactions []recommend.Interaction
	readErr      error
}

func (f *fakeCatalog) ReadAll(context.Context) ([]recommend.Movie, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.movies, nil
}

func (f *fakeCatalog) ReadSince(_ context.Context, since time.Time) ([]recommend.Movie, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	var changed []recommend.Movie
	for _, m := range f.movies {
		if !m.UpdatedAt.Before(since) {
			changed = append(changed, m)
		}
	}
	return changed, nil
}

type fakeInteractionLog struct {
	interactions []recommend.Interaction
}

func (f *fakeInteractionLog) ReadAll(context.Context) ([]recommend.Interaction, error) {
	return f.interactions, nil
}

func (f *fakeInteractionLog) ReadSince(_ context.Context, since time.Time) ([]recommend.Interaction, error) {
	var recent []recommend.Interaction
	for _, inter := range f.interactions {
		if !inter.Timestamp.Before(since) {
			recent = append(recent, inter)
		}
	}
	return recent, nil
}

// fakeInvalidator records invalidations.
type fakeInvalidator struct {
	mu    sync.Mutex
	users []string
	all   int
}

func (f *fakeInvalidator) InvalidateUser(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
}

func (f *fakeInvalidator) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
}

func testStateStore(t *testing.T) *StateStore {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStateStore(db)
}

func testConfig() Config {
	return Config{
		RetrainInterval: 7 * 24 * time.Hour,
		MinInteractions: 50,
		RunTimeout:      time.Minute,
	}
}

type fixture struct {
	orch        *Orchestrator
	state       *StateStore
	vectors     *vectorstore.Store
	catalog     *fakeCatalog
	log         *fakeInteractionLog
	embedder    *fakeEmbedder
	invalidator *fakeInvalidator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		state:   testStateStore(t),
		vectors: vectorstore.New(nil),
		catalog: &fakeCatalog{movies: []recommend.Movie{
			{ID: "m1", Title: "Heat", UpdatedAt: time.Now()},
			{ID: "m2", Title: "Alien", UpdatedAt: time.Now()},
		}},
		log:         &fakeInteractionLog{},
		embedder:    &fakeEmbedder{version: "v1"},
		invalidator: &fakeInvalidator{},
	}
	f.orch = NewOrchestrator(testConfig(), f.state, f.catalog, f.log, f.embedder, f.vectors, nil, f.invalidator)
	return f
}

func TestDecisionTable(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	tests := []struct {
		name         string
		lastFull     time.Time
		interactions int64
		want         Mode
	}{
		{"volume trigger", now.Add(-2 * 24 * time.Hour), 60, ModeIncremental},
		{"time trigger wins over any volume", now.Add(-8 * 24 * time.Hour), 3, ModeFull},
		{"time trigger with high volume", now.Add(-8 * 24 * time.Hour), 500, ModeFull},
		{"neither trigger", now.Add(-1 * 24 * time.Hour), 10, ModeSkip},
		{"never retrained", time.Time{}, 0, ModeFull},
		{"threshold exactly met", now.Add(-time.Hour), 50, ModeIncremental},
		{"interval exactly met", now.Add(-7 * 24 * time.Hour), 0, ModeFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.orch.decide(&State{
				LastFullRetrainAt:        tt.lastFull,
				InteractionsSinceRetrain: tt.interactions,
				ModeInProgress:           ModeNone,
			}, now)
			if d.Mode != tt.want {
				t.Errorf("decide() = %s (%s), want %s", d.Mode, d.Reason, tt.want)
			}
		})
	}
}

func TestFullRunPublishesSnapshotAndResetsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.state.Update(ctx, func(st *State) error {
		st.InteractionsSinceRetrain = 120
		return nil
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	before := time.Now()
	if _, err := f.orch.Run(ctx, ModeFull); err != nil {
		t.Fatalf("Run(full) error: %v", err)
	}

	snap := f.vectors.Current()
	if snap == nil || snap.Len() != 2 {
		t.Fatalf("snapshot has %d movies, want 2", snap.Len())
	}

	state, err := f.state.Get(ctx)
	if err != nil {
		t.Fatalf("Get state: %v", err)
	}
	if state.InteractionsSinceRetrain != 0 {
		t.Errorf("counter = %d after full run, want 0", state.InteractionsSinceRetrain)
	}
	if state.LastFullRetrainAt.Before(before) {
		t.Errorf("LastFullRetrainAt = %v, want >= %v", state.LastFullRetrainAt, before)
	}
	if state.ModeInProgress != ModeNone {
		t.Errorf("ModeInProgress = %s, want none", state.ModeInProgress)
	}
	if f.invalidator.all != 1 {
		t.Errorf("global invalidations = %d, want 1", f.invalidator.all)
	}
}

func TestIncrementalRunResetsCounterOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Seed with a prior full run.
	if _, err := f.orch.Run(ctx, ModeFull); err != nil {
		t.Fatalf("Run(full) error: %v", err)
	}
	priorState, _ := f.state.Get(ctx)
	priorRetrain := priorState.LastFullRetrainAt

	// New interactions and a changed movie since the run.
	time.Sleep(5 * time.Millisecond)
	f.catalog.movies = append(f.catalog.movies, recommend.Movie{ID: "m3", Title: "Brazil", UpdatedAt: time.Now()})
	f.log.interactions = []recommend.Interaction{
		{UserID: "u1", MovieID: "m3", Rating: 5, Timestamp: time.Now()},
		{UserID: "u2", MovieID: "m1", Rating: 4, Timestamp: time.Now()},
	}
	if _, err := f.state.Update(ctx, func(st *State) error {
		st.InteractionsSinceRetrain = 60
		return nil
	}); err != nil {
		t.Fatalf("seed counter: %v", err)
	}

	if _, err := f.orch.Run(ctx, ModeIncremental); err != nil {
		t.Fatalf("Run(incremental) error: %v", err)
	}

	state, _ := f.state.Get(ctx)
	if state.InteractionsSinceRetrain != 0 {
		t.Errorf("counter = %d after incremental run, want 0", state.InteractionsSinceRetrain)
	}
	if !state.LastFullRetrainAt.Equal(priorRetrain) {
		t.Error("incremental run must not move LastFullRetrainAt")
	}

	if f.vectors.Current().Len() != 3 {
		t.Errorf("merged snapshot has %d movies, want 3", f.vectors.Current().Len())
	}

	// Only users with new interactions are invalidated, no global flush.
	if f.invalidator.all != 1 { // the one from the seeding full run
		t.Errorf("global invalidations = %d, want 1", f.invalidator.all)
	}
	if len(f.invalidator.users) != 2 {
		t.Errorf("user invalidations = %v, want u1 and u2", f.invalidator.users)
	}
}

func TestFailedRunLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.state.Update(ctx, func(st *State) error {
		st.InteractionsSinceRetrain = 75
		st.LastFullRetrainAt = time.Now().Add(-time.Hour)
		return nil
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	seeded, _ := f.state.Get(ctx)

	f.embedder.err = errors.New("embedding service down")
	if _, err := f.orch.Run(ctx, ModeFull); err == nil {
		t.Fatal("Run should fail when embedding generation fails")
	}

	state, _ := f.state.Get(ctx)
	if state.InteractionsSinceRetrain != seeded.InteractionsSinceRetrain {
		t.Errorf("counter changed on failed run: %d -> %d", seeded.InteractionsSinceRetrain, state.InteractionsSinceRetrain)
	}
	if !state.LastFullRetrainAt.Equal(seeded.LastFullRetrainAt) {
		t.Error("LastFullRetrainAt changed on failed run")
	}
	if state.ModeInProgress != ModeNone {
		t.Errorf("ModeInProgress = %s after failed run, want none", state.ModeInProgress)
	}
	if f.vectors.Current() != nil {
		t.Error("failed run must not publish a snapshot")
	}
}

func TestSwapFailurePreservesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Run(ctx, ModeFull); err != nil {
		t.Fatalf("Run(full) error: %v", err)
	}
	prior := f.vectors.Current()

	// A changed movie re-embedded under a different model version cannot be
	// merged into the active snapshot; the run must fail and leave the prior
	// snapshot active.
	time.Sleep(5 * time.Millisecond)
	f.catalog.movies = append(f.catalog.movies, recommend.Movie{ID: "m3", Title: "Brazil", UpdatedAt: time.Now()})
	f.embedder.version = "v2"
	if _, err := f.orch.Run(ctx, ModeIncremental); !errors.Is(err, vectorstore.ErrModelVersionMismatch) {
		t.Fatalf("Run() = %v, want ErrModelVersionMismatch", err)
	}
	if f.vectors.Current() != prior {
		t.Error("failed swap must preserve the prior snapshot")
	}
}

func TestDuplicateTriggerRejected(t *testing.T) {
	f := newFixture(t)
	f.embedder.block = make(chan struct{})
	ctx := context.Background()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := f.orch.Run(ctx, ModeFull)
		done <- err
	}()

	<-started
	// Give the first run time to take the lock and block in Embed.
	time.Sleep(20 * time.Millisecond)

	if _, err := f.orch.Run(ctx, ModeFull); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second trigger = %v, want ErrAlreadyRunning", err)
	}

	close(f.embedder.block)
	if err := <-done; err != nil {
		t.Fatalf("first run error: %v", err)
	}

	// After the run finishes, triggers are accepted again.
	if _, err := f.orch.Run(ctx, ModeFull); err != nil {
		t.Errorf("post-run trigger error: %v", err)
	}
}

func TestAutoModeSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Fresh full run means neither trigger fires.
	if _, err := f.orch.Run(ctx, ModeFull); err != nil {
		t.Fatalf("Run(full) error: %v", err)
	}
	embedCallsAfterFull := f.embedder.calls

	decision, err := f.orch.Run(ctx, ModeAuto)
	if err != nil {
		t.Fatalf("Run(auto) error: %v", err)
	}
	if decision.Mode != ModeSkip {
		t.Errorf("auto decision = %s, want skip", decision.Mode)
	}
	if f.embedder.calls != embedCallsAfterFull {
		t.Error("skipped run must not generate embeddings")
	}

	state, _ := f.state.Get(ctx)
	if state.ModeInProgress != ModeNone {
		t.Errorf("ModeInProgress = %s after skip, want none", state.ModeInProgress)
	}
}

func TestRunTimeout(t *testing.T) {
	f := newFixture(t)
	f.orch.cfg.RunTimeout = 30 * time.Millisecond
	f.embedder.block = make(chan struct{}) // never closed: embed hangs
	defer close(f.embedder.block)

	_, err := f.orch.Run(context.Background(), ModeFull)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want context.DeadlineExceeded", err)
	}

	state, _ := f.state.Get(context.Background())
	if state.ModeInProgress != ModeNone {
		t.Errorf("ModeInProgress = %s after timeout, want none", state.ModeInProgress)
	}
}

func TestPersistedSnapshotsPrunedToRetention(t *testing.T) {
	dir := t.TempDir()
	persister, err := vectorstore.NewPersister(dir)
	if err != nil {
		t.Fatalf("NewPersister: %v", err)
	}

	cfg := testConfig()
	cfg.KeepSnapshots = 1
	catalog := &fakeCatalog{movies: []recommend.Movie{
		{ID: "m1", Title: "Heat", UpdatedAt: time.Now()},
		{ID: "m2", Title: "Alien", UpdatedAt: time.Now()},
	}}
	orch := NewOrchestrator(cfg, testStateStore(t), catalog, &fakeInteractionLog{}, &fakeEmbedder{version: "v1"}, vectorstore.New(nil), persister, &fakeInvalidator{})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := orch.Run(ctx, ModeFull); err != nil {
			t.Fatalf("Run(full) #%d error: %v", i+1, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("snapshot dir has %d files %v, want 1", len(entries), names)
	}
	if v := persister.LatestVersion(); v != 2 {
		t.Errorf("LatestVersion() = %d, want 2", v)
	}

	// The surviving file must be the latest version, not an older one.
	snap, meta, err := persister.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest after prune: %v", err)
	}
	if meta.Version != 2 {
		t.Errorf("loaded version = %d, want 2", meta.Version)
	}
	if snap.Len() != 2 {
		t.Errorf("loaded snapshot has %d movies, want 2", snap.Len())
	}
}

func TestStateWriteFailureAfterSwapRestoresSnapshot(t *testing.T) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	embedder := &fakeEmbedder{version: "v1"}
	catalog := &fakeCatalog{movies: []recommend.Movie{
		{ID: "m1", Title: "Heat", UpdatedAt: time.Now()},
	}}
	vectors := vectorstore.New(nil)
	orch := NewOrchestrator(testConfig(), NewStateStore(db), catalog, &fakeInteractionLog{}, embedder, vectors, nil, &fakeInvalidator{})

	ctx := context.Background()
	if _, err := orch.Run(ctx, ModeFull); err != nil {
		t.Fatalf("seeding Run(full) error: %v", err)
	}
	prior := vectors.Current()
	if prior == nil {
		t.Fatal("seeding run published no snapshot")
	}

	// Closing the store mid-run makes the post-swap state write fail, after
	// the new snapshot has already gone live.
	embedder.onEmbed = func() { _ = db.Close() }

	if _, err := orch.Run(ctx, ModeFull); err == nil {
		t.Fatal("Run should fail when the state write fails")
	}
	if vectors.Current() != prior {
		t.Error("failed state write must restore the prior snapshot")
	}
}

func TestStatusReportsStateAndDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, decision, err := f.orch.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if state.ModeInProgress != ModeNone {
		t.Errorf("ModeInProgress = %s, want none", state.ModeInProgress)
	}
	if decision.Mode != ModeFull {
		t.Errorf("decision for never-retrained state = %s, want full", decision.Mode)
	}
}
