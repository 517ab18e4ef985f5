// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/reelrank/reelrank/internal/recommend"
)

const movieKeyPrefix = "movie:"

// ErrMovieNotFound is returned when a movie ID has no catalog entry.
var ErrMovieNotFound = errors.New("store: movie not found")

// MovieStore persists the movie catalog.
type MovieStore struct {
	db *badger.DB
}

// NewMovieStore creates a MovieStore over an open database.
func NewMovieStore(db *badger.DB) *MovieStore {
	return &MovieStore{db: db}
}

// Put stores or replaces a movie, stamping UpdatedAt so incremental
// pipeline runs can find it via ReadSince.
func (s *MovieStore) Put(ctx context.Context, movie *recommend.Movie) error {
	if movie.ID == "" {
		return errors.New("store: movie ID is required")
	}
	movie.UpdatedAt = time.Now()

	data, err := json.Marshal(movie)
	if err != nil {
		return fmt.Errorf("marshal movie: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(movieKeyPrefix+movie.ID), data)
	})
}

// Get returns a movie by ID.
func (s *MovieStore) Get(ctx context.Context, id string) (*recommend.Movie, error) {
	var movie recommend.Movie

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(movieKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMovieNotFound
		}
		if err != nil {
			return fmt.Errorf("get movie: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &movie)
		})
	})
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// ReadAll returns the entire movie catalog.
func (s *MovieStore) ReadAll(ctx context.Context) ([]recommend.Movie, error) {
	return s.read(ctx, func(*recommend.Movie) bool { return true })
}

// ReadSince returns movies added or changed at or after the given time.
func (s *MovieStore) ReadSince(ctx context.Context, since time.Time) ([]recommend.Movie, error) {
	return s.read(ctx, func(m *recommend.Movie) bool {
		return !m.UpdatedAt.Before(since)
	})
}

// read iterates the movie key range, keeping entries the filter accepts.
func (s *MovieStore) read(ctx context.Context, keep func(*recommend.Movie) bool) ([]recommend.Movie, error) {
	var movies []recommend.Movie

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(movieKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var movie recommend.Movie
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &movie)
			})
			if err != nil {
				return fmt.Errorf("decode movie %s: %w", it.Item().Key(), err)
			}
			if keep(&movie) {
				movies = append(movies, movie)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movies, nil
}
