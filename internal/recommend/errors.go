// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package recommend

import "errors"

var (
	// ErrInsufficientHistory means the user has no qualifying interactions
	// to build a taste profile from. Callers fall back to the popular-items
	// list; this is never surfaced to the end user as an error.
	ErrInsufficientHistory = errors.New("recommend: insufficient interaction history")

	// ErrNoSnapshot means no embedding snapshot has been published yet.
	ErrNoSnapshot = errors.New("recommend: no embedding snapshot available")

	// ErrMovieNotFound means the requested movie has no embedding in the
	// active snapshot.
	ErrMovieNotFound = errors.New("recommend: movie not found in snapshot")
)
