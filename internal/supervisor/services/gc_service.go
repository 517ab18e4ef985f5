// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package services

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/reelrank/reelrank/internal/store"
)

// GCService drives Badger's value-log garbage collection on an interval.
type GCService struct {
	db       *badger.DB
	interval time.Duration
	name     string
}

// NewGCService creates the storage GC service.
func NewGCService(db *badger.DB, interval time.Duration) *GCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCService{
		db:       db,
		interval: interval,
		name:     "badger-gc",
	}
}

// Serve implements suture.Service.
func (g *GCService) Serve(ctx context.Context) error {
	return store.RunGC(ctx, g.db, g.interval)
}

// String returns the service name for supervision logs.
func (g *GCService) String() string {
	return g.name
}
