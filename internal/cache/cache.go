// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

// Package cache provides the thread-safe in-memory TTL cache backing
// recommendation lists.
//
// GetOrCompute is the main entry point: on a miss, exactly one computation
// runs per key (single-flight) while concurrent callers for the same key
// await its result. A failed computation propagates its error to every
// waiter of that round and stores nothing, so the next call retries fresh.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/reelrank/reelrank/internal/metrics"
)

// Entry is a cached value with its expiry.
type Entry struct {
	Data      interface{}
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Cache is a thread-safe in-memory cache with TTL expiry and single-flight
// recomputation.
type Cache struct {
	name    string
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]Entry
	flight  singleflight.Group
	stopCh  chan struct{}
	once    sync.Once

	// gen increments on every invalidation. In-flight computations capture
	// it before running and refuse to store once it has moved on, and new
	// callers key their flight by it so a GetOrCompute issued after an
	// invalidation never joins a round that started against pre-invalidation
	// state. Guarded by mu.
	gen uint64
}

// New creates a cache named for metrics with the given default TTL. A
// background goroutine evicts expired entries every cleanupInterval until
// Close is called.
func New(name string, ttl, cleanupInterval time.Duration) *Cache {
	c := &Cache{
		name:    name,
		ttl:     ttl,
		entries: make(map[string]Entry),
		stopCh:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

// Close stops the background cleanup goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

// Get retrieves a live value by key. Expired entries count as misses and
// are removed.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		metrics.RecordCacheLookup(c.name, false)
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		metrics.RecordCacheLookup(c.name, false)
		return nil, false
	}

	metrics.RecordCacheLookup(c.name, true)
	return entry.Data, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL and a fresh creation time.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = Entry{
		Data:      value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// GetOrCompute returns the cached value for key, computing it on miss or
// expiry. At most one computation per key runs at a time; concurrent
// callers await the in-flight result. A computation error is returned to
// all waiters of that round and nothing is stored.
//
// The caller's context bounds the wait: if ctx expires, GetOrCompute
// returns ctx.Err() while the computation may finish (and populate the
// cache) in the background.
func (c *Cache) GetOrCompute(ctx context.Context, key string, computeFn func(context.Context) (interface{}, error)) (interface{}, error) {
	return c.GetOrComputeTTL(ctx, key, c.ttl, computeFn)
}

// GetOrComputeTTL is GetOrCompute with a per-call TTL for the stored result.
func (c *Cache) GetOrComputeTTL(ctx context.Context, key string, ttl time.Duration, computeFn func(context.Context) (interface{}, error)) (interface{}, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	// The generation is part of the flight key: an invalidation bumps it, so
	// callers arriving afterwards start a fresh computation instead of
	// sharing one keyed by the old generation.
	flightKey := strconv.FormatUint(gen, 10) + "\x00" + key
	resCh := c.flight.DoChan(flightKey, func() (interface{}, error) {
		// Another caller may have populated the entry while we queued.
		c.mu.RLock()
		entry, exists := c.entries[key]
		c.mu.RUnlock()
		if exists && time.Now().Before(entry.ExpiresAt) {
			return entry.Data, nil
		}

		value, err := computeFn(ctx)
		if err != nil {
			return nil, err
		}
		c.setIfCurrent(key, value, ttl, gen)
		return value, nil
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// setIfCurrent stores a computed value unless an invalidation landed after
// the computation began. A result computed against invalidated state must
// not outlive the invalidation, so it is returned to the waiters of its
// round but never cached.
func (c *Cache) setIfCurrent(key string, value interface{}, ttl time.Duration, gen uint64) {
	now := time.Now()
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.entries[key] = Entry{
		Data:      value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// Delete removes a single entry and cuts off any in-flight computation from
// storing. Safe to call on a missing key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gen++
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// the number removed. Invalidation is immediate: the next GetOrCompute for
// a removed key recomputes even when a computation was already in flight.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.gen++
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
	return removed
}

// Clear removes all entries and cuts off in-flight computations from storing.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.gen++
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
}

// Len returns the current number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanupLoop periodically removes expired entries.
func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes all expired entries.
func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(size))
}

// GenerateKey creates a stable cache key from a method name and its
// parameters by hashing their JSON encoding.
func GenerateKey(method string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", method, params)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", method, hash[:16])
}
