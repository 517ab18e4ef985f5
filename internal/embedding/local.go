// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalProvider produces deterministic embeddings via feature hashing: each
// token is hashed into one of dimension buckets with a hash-derived sign, and
// the resulting vector is L2-normalized. Identical text always yields the
// identical vector, so snapshots built on different hosts agree.
//
// The vectors are far weaker than a learned model but give the pipeline and
// recommender a fully self-contained mode for development and testing.
type LocalProvider struct {
	modelVersion string
	dimension    int
}

// NewLocalProvider creates a local feature-hashing provider. A non-positive
// dimension falls back to 128.
func NewLocalProvider(modelVersion string, dimension int) *LocalProvider {
	if dimension <= 0 {
		dimension = 128
	}
	return &LocalProvider{
		modelVersion: modelVersion,
		dimension:    dimension,
	}
}

// Embed hashes each text into a normalized vector. It never fails except on
// context cancellation.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = p.embedOne(text)
	}
	return vectors, nil
}

// ModelVersion returns the version tag for snapshots built by this provider.
func (p *LocalProvider) ModelVersion() string { return p.modelVersion }

// Dimension returns the vector width.
func (p *LocalProvider) Dimension() int { return p.dimension }

func (p *LocalProvider) embedOne(text string) []float64 {
	vec := make([]float64, p.dimension)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(p.dimension)) //nolint:gosec // dimension > 0
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}

	normalize(vec)
	return vec
}

// normalize scales vec to unit length in place. Zero vectors stay zero.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
