// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/reelrank/reelrank/internal/config"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics, preventing unbounded allocation on large error pages.
const maxErrorBodySize = 64 * 1024

// HTTPProvider calls a remote embedding service. Requests are batched and
// rate limited; each batch is a single POST carrying the texts and the
// expected model version.
type HTTPProvider struct {
	endpoint     string
	modelVersion string
	batchSize    int
	client       *http.Client
	limiter      *rate.Limiter
}

// embedRequest is the wire format sent to the embedding service.
type embedRequest struct {
	ModelVersion string   `json:"model_version"`
	Texts        []string `json:"texts"`
}

// embedResponse is the wire format returned by the embedding service.
type embedResponse struct {
	ModelVersion string      `json:"model_version"`
	Vectors      [][]float64 `json:"vectors"`
}

// NewHTTPProvider creates a provider for the configured endpoint.
func NewHTTPProvider(cfg config.EmbeddingConfig) (*HTTPProvider, error) {
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("embedding: invalid endpoint %q: %w", cfg.Endpoint, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &HTTPProvider{
		endpoint:     cfg.Endpoint,
		modelVersion: cfg.ModelVersion,
		batchSize:    batchSize,
		client:       &http.Client{Timeout: timeout},
		limiter:      limiter,
	}, nil
}

// Embed sends the texts in batches and concatenates the results in input
// order. A failed batch fails the whole call: partial vector sets would
// produce snapshots with silently missing movies.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, 0, len(texts))

	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// ModelVersion returns the version the service is expected to serve.
func (p *HTTPProvider) ModelVersion() string { return p.modelVersion }

func (p *HTTPProvider) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embedRequest{
		ModelVersion: p.modelVersion,
		Texts:        texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody := readBodyForError(resp.Body)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, errBody)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if parsed.ModelVersion != "" && parsed.ModelVersion != p.modelVersion {
		return nil, fmt.Errorf("embedding service serves model %q, want %q", parsed.ModelVersion, p.modelVersion)
	}
	if len(parsed.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(parsed.Vectors), len(texts))
	}

	return parsed.Vectors, nil
}

// readBodyForError reads at most maxErrorBodySize bytes for error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		body = append(body, []byte("... (truncated)")...)
	}
	return body
}
