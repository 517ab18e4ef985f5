// ReelRank - Personalized Movie Recommendations
// Copyright 2026 ReelRank Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelrank/reelrank

package vectorstore

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Snapshots are persisted as gob-encoded, gzip-compressed files with a
// SHA-256 checksum, named snapshot_v{N}.gob.gz where N increases
// monotonically. Writes go through a temp file plus rename so a crash
// mid-save never leaves a truncated latest version.

// SnapshotMetadata describes a persisted snapshot.
type SnapshotMetadata struct {
	Version      int
	ModelVersion string
	MovieCount   int
	SavedAt      time.Time
	Checksum     string
	SizeBytes    int64
}

// persistedSnapshot is the on-disk format.
type persistedSnapshot struct {
	Metadata       SnapshotMetadata
	CompressedData []byte
}

// Persister saves and loads embedding snapshots under a base directory.
type Persister struct {
	baseDir string

	mu      sync.Mutex
	version int // latest persisted version
}

// NewPersister creates a Persister rooted at baseDir, creating the
// directory and scanning it for previously saved versions.
func NewPersister(baseDir string) (*Persister, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	p := &Persister{baseDir: baseDir}
	if err := p.scan(); err != nil {
		return nil, fmt.Errorf("scan snapshot directory: %w", err)
	}
	return p, nil
}

// scan finds the highest persisted snapshot version.
func (p *Persister) scan() error {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_v%d.gob.gz", &v); err != nil {
			continue
		}
		if v > p.version {
			p.version = v
		}
	}
	return nil
}

// Save persists the snapshot as the next version and returns its metadata.
func (p *Persister) Save(snap *Snapshot) (*SnapshotMetadata, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	hash := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("finalize compression: %w", err)
	}

	version := p.version + 1
	meta := SnapshotMetadata{
		Version:      version,
		ModelVersion: snap.ModelVersion,
		MovieCount:   snap.Len(),
		SavedAt:      time.Now(),
		Checksum:     hex.EncodeToString(hash[:]),
		SizeBytes:    int64(compressed.Len()),
	}

	final := p.path(version)
	tmp := final + ".tmp"

	f, err := os.Create(tmp) //nolint:gosec // path is built from the configured base directory
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}

	pf := persistedSnapshot{Metadata: meta, CompressedData: compressed.Bytes()}
	if err := gob.NewEncoder(f).Encode(pf); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("write snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("close snapshot file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("publish snapshot file: %w", err)
	}

	p.version = version
	return &meta, nil
}

// LoadLatest loads the most recently persisted snapshot. It returns
// (nil, nil, nil) when no snapshot has been saved yet.
func (p *Persister) LoadLatest() (*Snapshot, *SnapshotMetadata, error) {
	p.mu.Lock()
	version := p.version
	p.mu.Unlock()

	if version == 0 {
		return nil, nil, nil
	}
	return p.Load(version)
}

// Load loads a specific snapshot version, verifying its checksum.
func (p *Persister) Load(version int) (*Snapshot, *SnapshotMetadata, error) {
	f, err := os.Open(p.path(version)) //nolint:gosec // path is built from the configured base directory
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var pf persistedSnapshot
	if err := gob.NewDecoder(f).Decode(&pf); err != nil {
		return nil, nil, fmt.Errorf("read snapshot file: %w", err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(pf.CompressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	defer func() { _ = gzr.Close() }()

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, nil, fmt.Errorf("read decompressed snapshot: %w", err)
	}

	hash := sha256.Sum256(raw)
	if checksum := hex.EncodeToString(hash[:]); checksum != pf.Metadata.Checksum {
		return nil, nil, fmt.Errorf("snapshot checksum mismatch: expected %s, got %s",
			pf.Metadata.Checksum, checksum)
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, nil, fmt.Errorf("decode snapshot: %w", err)
	}

	return &snap, &pf.Metadata, nil
}

// Prune removes persisted snapshots older than the latest keep versions.
func (p *Persister) Prune(keep int) error {
	if keep < 1 {
		keep = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return fmt.Errorf("read snapshot directory: %w", err)
	}

	cutoff := p.version - keep
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_v%d.gob.gz", &v); err != nil {
			continue
		}
		if v <= cutoff {
			_ = os.Remove(filepath.Join(p.baseDir, entry.Name())) //nolint:errcheck // best-effort cleanup
		}
	}
	return nil
}

// LatestVersion returns the highest persisted version, or 0 if none.
func (p *Persister) LatestVersion() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// path returns the file path for a snapshot version.
func (p *Persister) path(version int) string {
	return filepath.Join(p.baseDir, fmt.Sprintf("snapshot_v%d.gob.gz", version))
}
