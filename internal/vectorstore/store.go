// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package vectorstore

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/reelrank/reelrank/internal/metrics"
)

// ErrNilSnapshot is returned when a nil snapshot is offered for swap.
var ErrNilSnapshot = errors.New("vectorstore: nil snapshot")

// ErrModelVersionMismatch is returned when a swap would mix embeddings
// produced by different model versions.
var ErrModelVersionMismatch = errors.New("vectorstore: model version mismatch")

// Store publishes the current embedding snapshot. Reads are lock-free;
// writers replace the whole snapshot in one atomic step.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New creates a Store holding the given initial snapshot. The initial
// snapshot may be nil when no model has been trained yet.
func New(initial *Snapshot) *Store {
	s := &Store{}
	if initial != nil {
		s.current.Store(initial)
		metrics.SnapshotMovies.Set(float64(initial.Len()))
	}
	return s
}

// Current returns the active snapshot, or nil if none has been published.
// The returned snapshot must be treated as read-only.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Swap atomically replaces the active snapshot. It rejects nil snapshots
// and snapshots whose model version differs from the active one, because
// similarity scores across model versions are not comparable.
func (s *Store) Swap(next *Snapshot) error {
	if next == nil {
		return ErrNilSnapshot
	}

	if prev := s.current.Load(); prev != nil && prev.ModelVersion != next.ModelVersion {
		return fmt.Errorf("%w: have %q, got %q",
			ErrModelVersionMismatch, prev.ModelVersion, next.ModelVersion)
	}

	s.current.Store(next)
	metrics.SnapshotSwaps.Inc()
	metrics.SnapshotMovies.Set(float64(next.Len()))
	return nil
}

// ForceSwap replaces the active snapshot without the model version check.
// Used by full retrains, which may legitimately move to a new model version.
func (s *Store) ForceSwap(next *Snapshot) error {
	if next == nil {
		return ErrNilSnapshot
	}

	s.current.Store(next)
	metrics.SnapshotSwaps.Inc()
	metrics.SnapshotMovies.Set(float64(next.Len()))
	return nil
}
