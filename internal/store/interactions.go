// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/reelrank/reelrank/internal/recommend"
)

// Interactions are written under two keys in the same transaction: a
// per-user key for profile reads and a time-ordered key so counting and
// scanning "since t" seeks directly to the right range.
//
//	interaction_user:{user_id}:{unix_nano}:{uuid}
//	interaction_ts:{unix_nano}:{uuid}
const (
	interactionUserPrefix = "interaction_user:"
	interactionTSPrefix   = "interaction_ts:"
)

// InteractionStore persists the append-only interaction log.
type InteractionStore struct {
	db *badger.DB
}

// NewInteractionStore creates an InteractionStore over an open database.
func NewInteractionStore(db *badger.DB) *InteractionStore {
	return &InteractionStore{db: db}
}

// Append records an interaction. Interactions are never mutated.
func (s *InteractionStore) Append(ctx context.Context, inter *recommend.Interaction) error {
	if inter.UserID == "" || inter.MovieID == "" {
		return fmt.Errorf("store: interaction requires user and movie IDs")
	}
	if inter.Timestamp.IsZero() {
		inter.Timestamp = time.Now()
	}

	data, err := json.Marshal(inter)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}

	id := uuid.NewString()
	nano := inter.Timestamp.UnixNano()
	userKey := fmt.Sprintf("%s%s:%020d:%s", interactionUserPrefix, inter.UserID, nano, id)
	tsKey := fmt.Sprintf("%s%020d:%s", interactionTSPrefix, nano, id)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(userKey), data); err != nil {
			return fmt.Errorf("set user interaction: %w", err)
		}
		if err := txn.Set([]byte(tsKey), data); err != nil {
			return fmt.Errorf("set time-indexed interaction: %w", err)
		}
		return nil
	})
}

// ReadForUser returns all interactions for a user in timestamp order.
func (s *InteractionStore) ReadForUser(ctx context.Context, userID string) ([]recommend.Interaction, error) {
	var interactions []recommend.Interaction

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(interactionUserPrefix + userID + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var inter recommend.Interaction
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &inter)
			})
			if err != nil {
				return fmt.Errorf("decode interaction %s: %w", it.Item().Key(), err)
			}
			interactions = append(interactions, inter)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return interactions, nil
}

// ReadAll returns every interaction in timestamp order.
func (s *InteractionStore) ReadAll(ctx context.Context) ([]recommend.Interaction, error) {
	return s.readSince(ctx, time.Time{})
}

// ReadSince returns interactions recorded at or after the given time.
func (s *InteractionStore) ReadSince(ctx context.Context, since time.Time) ([]recommend.Interaction, error) {
	return s.readSince(ctx, since)
}

// CountSince counts interactions recorded at or after the given time.
func (s *InteractionStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64

	err := s.iterateSince(ctx, since, func(*badger.Item) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *InteractionStore) readSince(ctx context.Context, since time.Time) ([]recommend.Interaction, error) {
	var interactions []recommend.Interaction

	err := s.iterateSince(ctx, since, func(item *badger.Item) error {
		var inter recommend.Interaction
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &inter)
		})
		if err != nil {
			return fmt.Errorf("decode interaction %s: %w", item.Key(), err)
		}
		interactions = append(interactions, inter)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return interactions, nil
}

// iterateSince seeks into the time-ordered key range and visits every
// interaction at or after since.
func (s *InteractionStore) iterateSince(ctx context.Context, since time.Time, visit func(*badger.Item) error) error {
	var seek []byte
	if since.IsZero() {
		seek = []byte(interactionTSPrefix)
	} else {
		seek = []byte(fmt.Sprintf("%s%020d:", interactionTSPrefix, since.UnixNano()))
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(interactionTSPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := visit(it.Item()); err != nil {
				return err
			}
		}
		return nil
	})
}
