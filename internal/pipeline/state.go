// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package pipeline decides when and how to refresh movie embeddings and
// drives the refresh itself: full retrains on a time trigger, incremental
// runs on an interaction-volume trigger, and the cache invalidation that
// follows either.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/reelrank/reelrank/internal/metrics"
)

// Mode identifies what kind of pipeline run is requested or in progress.
type Mode string

const (
	// ModeNone means no run is in progress.
	ModeNone Mode = "none"
	// ModeSkip means evaluation decided no run is due.
	ModeSkip Mode = "skip"
	// ModeIncremental re-embeds only movies changed since the last run.
	ModeIncremental Mode = "incremental"
	// ModeFull re-embeds the entire catalog.
	ModeFull Mode = "full"
	// ModeAuto lets evaluation pick between skip, incremental, and full.
	ModeAuto Mode = "auto"
)

// State is the durable pipeline bookkeeping. The orchestrator exclusively
// owns its transitions.
type State struct {
	// LastFullRetrainAt is when the last successful full retrain finished.
	LastFullRetrainAt time.Time `json:"last_full_retrain_at"`

	// LastRunAt is when the last successful embedding-updating run of any
	// mode finished. Incremental runs read changes since this point.
	LastRunAt time.Time `json:"last_run_at"`

	// InteractionsSinceRetrain counts interactions recorded since the last
	// successful embedding-updating run. Reset exactly when such a run
	// completes, never on a skipped or failed run.
	InteractionsSinceRetrain int64 `json:"new_interactions_since_retrain"`

	// ModeInProgress is the mode of the currently running pipeline, or
	// ModeNone. At most one run is in progress at a time.
	ModeInProgress Mode `json:"mode_in_progress"`
}

const stateKey = "pipeline:state"

// StateStore persists State in Badger so counters survive restarts.
type StateStore struct {
	db *badger.DB
}

// NewStateStore creates a StateStore over an open database.
func NewStateStore(db *badger.DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the persisted state, or a zero state if none exists yet.
func (s *StateStore) Get(ctx context.Context) (*State, error) {
	state := &State{ModeInProgress: ModeNone}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get pipeline state: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, state)
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Put replaces the persisted state.
func (s *StateStore) Put(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal pipeline state: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(stateKey), data)
	})
	if err != nil {
		return err
	}

	metrics.PipelineInteractionCounter.Set(float64(state.InteractionsSinceRetrain))
	return nil
}

// Update applies fn to the current state and persists the result in one
// read-modify-write transaction. Concurrent updates to the state key hit
// badger's optimistic conflict detection, so the transaction is retried.
func (s *StateStore) Update(ctx context.Context, fn func(*State) error) (*State, error) {
	for {
		state, err := s.updateOnce(fn)
		switch {
		case errors.Is(err, badger.ErrConflict):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		case err != nil:
			return nil, err
		}
		metrics.PipelineInteractionCounter.Set(float64(state.InteractionsSinceRetrain))
		return state, nil
	}
}

func (s *StateStore) updateOnce(fn func(*State) error) (*State, error) {
	state := &State{ModeInProgress: ModeNone}

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get pipeline state: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, state)
			}); err != nil {
				return err
			}
		}

		if err := fn(state); err != nil {
			return err
		}

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal pipeline state: %w", err)
		}
		return txn.Set([]byte(stateKey), data)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// RecordInteraction bumps the interaction counter and returns its new value.
// Called once per appended interaction.
func (s *StateStore) RecordInteraction(ctx context.Context) (int64, error) {
	state, err := s.Update(ctx, func(st *State) error {
		st.InteractionsSinceRetrain++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return state.InteractionsSinceRetrain, nil
}
