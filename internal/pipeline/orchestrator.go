// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelrank/reelrank/internal/logging"
	"github.com/reelrank/reelrank/internal/metrics"
	"github.com/reelrank/reelrank/internal/recommend"
	"github.com/reelrank/reelrank/internal/vectorstore"
)

// ErrAlreadyRunning reports a rejected duplicate trigger. Nothing was
// started, so nothing needs rolling back.
var ErrAlreadyRunning = errors.New("pipeline: run already in progress")

// Embedder turns movie text into embedding vectors. Used only during
// pipeline runs, never on the request path.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	ModelVersion() string
}

// MovieReader provides catalog reads for embedding regeneration.
type MovieReader interface {
	ReadAll(ctx context.Context) ([]recommend.Movie, error)
	ReadSince(ctx context.Context, since time.Time) ([]recommend.Movie, error)
}

// InteractionLog provides the interaction reads the pipeline needs for
// popularity scores and affected-user invalidation.
type InteractionLog interface {
	ReadAll(ctx context.Context) ([]recommend.Interaction, error)
	ReadSince(ctx context.Context, since time.Time) ([]recommend.Interaction, error)
}

// Invalidator force-expires recommendation caches after a run.
type Invalidator interface {
	InvalidateUser(userID string)
	InvalidateAll()
}

// Config holds the orchestrator thresholds.
type Config struct {
	// RetrainInterval forces a full retrain once this much time has passed
	// since the last one, regardless of interaction volume.
	RetrainInterval time.Duration

	// MinInteractions triggers an incremental run once this many
	// interactions have accumulated.
	MinInteractions int64

	// RunTimeout bounds a single run; on expiry the run fails and state
	// rolls back to its pre-run value.
	RunTimeout time.Duration

	// KeepSnapshots is how many persisted snapshot versions survive after
	// each run; older files are pruned. Zero keeps only the latest.
	KeepSnapshots int
}

// Decision is the outcome of evaluating the pipeline state.
type Decision struct {
	Mode   Mode
	Reason string
}

// Orchestrator owns pipeline runs: it evaluates the two triggers, executes
// full or incremental refreshes, swaps the vector store snapshot, and
// invalidates caches. At most one run is active at a time.
type Orchestrator struct {
	cfg          Config
	state        *StateStore
	movies       MovieReader
	interactions InteractionLog
	embedder     Embedder
	vectors      *vectorstore.Store
	persister    *vectorstore.Persister
	invalidator  Invalidator
	logger       zerolog.Logger

	// runMu guards the run itself; TryLock rejects duplicate triggers
	// instead of queueing them.
	runMu sync.Mutex
}

// NewOrchestrator wires the pipeline orchestrator. persister may be nil to
// disable snapshot persistence (tests).
func NewOrchestrator(
	cfg Config,
	state *StateStore,
	movies MovieReader,
	interactions InteractionLog,
	embedder Embedder,
	vectors *vectorstore.Store,
	persister *vectorstore.Persister,
	invalidator Invalidator,
) *Orchestrator {
	return &Orchestrator{
		cfg:          cfg,
		state:        state,
		movies:       movies,
		interactions: interactions,
		embedder:     embedder,
		vectors:      vectors,
		persister:    persister,
		invalidator:  invalidator,
		logger:       logging.With().Str("component", "pipeline").Logger(),
	}
}

// Evaluate reads the pipeline state and applies the decision policy:
//
//  1. elapsed since last full retrain >= RetrainInterval -> full
//  2. else interactions since last run >= MinInteractions -> incremental
//  3. else -> skip
//
// A zero LastFullRetrainAt (never retrained) always selects full.
func (o *Orchestrator) Evaluate(ctx context.Context) (Decision, error) {
	state, err := o.state.Get(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("read pipeline state: %w", err)
	}
	return o.decide(state, time.Now()), nil
}

// decide applies the decision table to a state at the given instant.
func (o *Orchestrator) decide(state *State, now time.Time) Decision {
	elapsed := now.Sub(state.LastFullRetrainAt)
	if state.LastFullRetrainAt.IsZero() || elapsed >= o.cfg.RetrainInterval {
		return Decision{
			Mode:   ModeFull,
			Reason: fmt.Sprintf("elapsed %s >= retrain interval %s", elapsed.Round(time.Second), o.cfg.RetrainInterval),
		}
	}
	if state.InteractionsSinceRetrain >= o.cfg.MinInteractions {
		return Decision{
			Mode:   ModeIncremental,
			Reason: fmt.Sprintf("%d interactions >= threshold %d", state.InteractionsSinceRetrain, o.cfg.MinInteractions),
		}
	}
	return Decision{
		Mode:   ModeSkip,
		Reason: fmt.Sprintf("%d interactions below threshold %d, %s until forced retrain", state.InteractionsSinceRetrain, o.cfg.MinInteractions, (o.cfg.RetrainInterval - elapsed).Round(time.Second)),
	}
}

// Run executes a pipeline run. ModeAuto evaluates first and may skip;
// explicit modes run unconditionally. A second trigger while a run is
// active returns ErrAlreadyRunning.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (Decision, error) {
	if !o.runMu.TryLock() {
		return Decision{}, ErrAlreadyRunning
	}
	defer o.runMu.Unlock()

	decision := Decision{Mode: mode, Reason: "explicit trigger"}
	if mode == ModeAuto {
		state, err := o.state.Get(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("read pipeline state: %w", err)
		}
		decision = o.decide(state, time.Now())
	}

	switch decision.Mode {
	case ModeSkip:
		metrics.PipelineSkips.Inc()
		o.logger.Debug().Str("reason", decision.Reason).Msg("pipeline run skipped")
		return decision, nil
	case ModeFull, ModeIncremental:
	default:
		return Decision{}, fmt.Errorf("pipeline: invalid mode %q", decision.Mode)
	}

	if err := o.markInProgress(ctx, decision.Mode); err != nil {
		return Decision{}, err
	}

	runCtx := ctx
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	o.logger.Info().
		Str("mode", string(decision.Mode)).
		Str("reason", decision.Reason).
		Msg("pipeline run starting")

	var runErr error
	if decision.Mode == ModeFull {
		runErr = o.runFull(runCtx, start)
	} else {
		runErr = o.runIncremental(runCtx, start)
	}

	metrics.RecordPipelineRun(string(decision.Mode), time.Since(start), runErr)

	if runErr != nil {
		// A failed run leaves counters and the snapshot untouched; only the
		// in-progress marker is cleared. The next scheduled evaluation
		// re-derives the mode from unchanged state.
		if _, err := o.state.Update(ctx, func(st *State) error {
			st.ModeInProgress = ModeNone
			return nil
		}); err != nil {
			o.logger.Error().Err(err).Msg("failed to clear in-progress marker after failed run")
		}
		o.logger.Error().
			Err(runErr).
			Str("mode", string(decision.Mode)).
			Dur("elapsed", time.Since(start)).
			Msg("pipeline run failed")
		return decision, runErr
	}

	o.logger.Info().
		Str("mode", string(decision.Mode)).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline run complete")
	return decision, nil
}

// markInProgress transitions ModeInProgress from none to the given mode.
// A persisted non-none marker from a crashed process is stale: the runMu
// lock proves no run is actually active in this process, so it is replaced.
func (o *Orchestrator) markInProgress(ctx context.Context, mode Mode) error {
	_, err := o.state.Update(ctx, func(st *State) error {
		if st.ModeInProgress != ModeNone && st.ModeInProgress != "" {
			o.logger.Warn().
				Str("stale_mode", string(st.ModeInProgress)).
				Msg("clearing stale in-progress marker")
		}
		st.ModeInProgress = mode
		return nil
	})
	return err
}

// runFull regenerates embeddings for the whole catalog, swaps in a complete
// new snapshot, resets the interaction counter, stamps the retrain time,
// and invalidates all caches.
func (o *Orchestrator) runFull(ctx context.Context, startedAt time.Time) error {
	movies, err := o.movies.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	snap, err := o.buildSnapshot(ctx, movies)
	if err != nil {
		return err
	}

	interactions, err := o.interactions.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read interactions: %w", err)
	}
	snap.Popularity = recommend.PopularityFromInteractions(interactions)

	if err := o.persist(snap); err != nil {
		return err
	}

	prev := o.vectors.Current()
	if err := o.vectors.ForceSwap(snap); err != nil {
		return fmt.Errorf("swap snapshot: %w", err)
	}

	if _, err := o.state.Update(ctx, func(st *State) error {
		st.LastFullRetrainAt = startedAt
		st.LastRunAt = startedAt
		st.InteractionsSinceRetrain = 0
		st.ModeInProgress = ModeNone
		return nil
	}); err != nil {
		// A failed run must not leave the new snapshot live with unreset
		// counters; put the prior snapshot back so the two stay consistent.
		o.restoreSnapshot(prev)
		return fmt.Errorf("persist pipeline state: %w", err)
	}

	o.invalidator.InvalidateAll()
	o.logger.Info().Int("movies", snap.Len()).Msg("full retrain published new snapshot")
	return nil
}

// runIncremental re-embeds only movies changed since the last run, merges
// the delta into the current snapshot, resets the interaction counter
// without touching the retrain timestamp, and invalidates caches only for
// users whose interaction set changed.
func (o *Orchestrator) runIncremental(ctx context.Context, startedAt time.Time) error {
	state, err := o.state.Get(ctx)
	if err != nil {
		return fmt.Errorf("read pipeline state: %w", err)
	}

	changed, err := o.movies.ReadSince(ctx, state.LastRunAt)
	if err != nil {
		return fmt.Errorf("read changed movies: %w", err)
	}

	delta, err := o.buildSnapshot(ctx, changed)
	if err != nil {
		return err
	}

	base := o.vectors.Current()
	if base == nil {
		base = vectorstore.NewSnapshot(o.embedder.ModelVersion())
	}
	if delta.Len() > 0 && base.ModelVersion != delta.ModelVersion {
		// Mixing vectors from different models would make similarity scores
		// incomparable; a changed model version needs a full retrain.
		return fmt.Errorf("merge delta: %w: have %q, got %q",
			vectorstore.ErrModelVersionMismatch, base.ModelVersion, delta.ModelVersion)
	}
	merged := base.Merge(delta)

	// Popularity drifts with every interaction; recount it over the full
	// log so merged snapshots do not fossilize stale scores.
	interactions, err := o.interactions.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read interactions: %w", err)
	}
	merged.Popularity = recommend.PopularityFromInteractions(interactions)

	if err := o.persist(merged); err != nil {
		return err
	}

	prev := o.vectors.Current()
	if err := o.vectors.Swap(merged); err != nil {
		return fmt.Errorf("swap snapshot: %w", err)
	}

	recent, err := o.interactions.ReadSince(ctx, state.LastRunAt)
	if err != nil {
		o.restoreSnapshot(prev)
		return fmt.Errorf("read recent interactions: %w", err)
	}

	if _, err := o.state.Update(ctx, func(st *State) error {
		st.LastRunAt = startedAt
		st.InteractionsSinceRetrain = 0
		st.ModeInProgress = ModeNone
		return nil
	}); err != nil {
		o.restoreSnapshot(prev)
		return fmt.Errorf("persist pipeline state: %w", err)
	}

	affected := make(map[string]struct{})
	for _, inter := range recent {
		affected[inter.UserID] = struct{}{}
	}
	for userID := range affected {
		o.invalidator.InvalidateUser(userID)
	}

	o.logger.Info().
		Int("changed_movies", len(changed)).
		Int("affected_users", len(affected)).
		Msg("incremental run merged snapshot")
	return nil
}

// restoreSnapshot puts the pre-run snapshot back after a run failed between
// the swap and the state write. When no snapshot existed before the run the
// new one stays live; the unreset state re-triggers a full retrain on the
// next evaluation, which republishes equivalent vectors.
func (o *Orchestrator) restoreSnapshot(prev *vectorstore.Snapshot) {
	if prev == nil {
		o.logger.Warn().Msg("no prior snapshot to restore after failed run")
		return
	}
	if err := o.vectors.ForceSwap(prev); err != nil {
		o.logger.Error().Err(err).Msg("failed to restore prior snapshot after failed run")
	}
}

// buildSnapshot embeds the given movies into a fresh snapshot tagged with
// the embedder's model version.
func (o *Orchestrator) buildSnapshot(ctx context.Context, movies []recommend.Movie) (*vectorstore.Snapshot, error) {
	snap := vectorstore.NewSnapshot(o.embedder.ModelVersion())
	if len(movies) == 0 {
		return snap, nil
	}

	texts := make([]string, len(movies))
	for i := range movies {
		texts[i] = movies[i].EmbeddingText()
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("generate embeddings: %w", err)
	}
	if len(vectors) != len(movies) {
		return nil, fmt.Errorf("embedding count mismatch: %d movies, %d vectors", len(movies), len(vectors))
	}

	for i := range movies {
		snap.Vectors[movies[i].ID] = vectors[i]
		snap.AddedAt[movies[i].ID] = movies[i].UpdatedAt
	}
	return snap, nil
}

// persist saves the snapshot if a persister is configured, then prunes
// versions beyond the retention window. Every run writes a complete file, so
// skipping the prune would grow the snapshot directory without bound.
func (o *Orchestrator) persist(snap *vectorstore.Snapshot) error {
	if o.persister == nil {
		return nil
	}
	meta, err := o.persister.Save(snap)
	if err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	o.logger.Debug().
		Int("version", meta.Version).
		Int("movies", meta.MovieCount).
		Int64("bytes", meta.SizeBytes).
		Msg("snapshot persisted")

	// The new snapshot is already safe on disk; failing to remove old files
	// must not fail the run.
	if err := o.persister.Prune(o.cfg.KeepSnapshots); err != nil {
		o.logger.Warn().Err(err).Msg("failed to prune old snapshots")
	}
	return nil
}

// Status reports the persisted pipeline state plus the active decision.
func (o *Orchestrator) Status(ctx context.Context) (*State, Decision, error) {
	state, err := o.state.Get(ctx)
	if err != nil {
		return nil, Decision{}, err
	}
	return state, o.decide(state, time.Now()), nil
}
