// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package layout derives query fingerprints and the on-disk locations of
// caches, checkpoints, and per-query result directories.
package layout

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	resultsDir   = "results"
	metadataFile = "metadata.json"
	cacheSuffix  = ".json"
	partialSufx  = ".partial.json"

	// fingerprintLen is the number of hex characters kept from the digest.
	fingerprintLen = 32
)

// Fingerprint returns a deterministic identifier for (query, conference, year).
// The three inputs are hashed with NUL separators so that ("ab","c") and
// ("a","bc") differ. Any change to any input, including whitespace, changes
// the result.
func Fingerprint(query, conference, year string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(conference))
	h.Write([]byte{0})
	h.Write([]byte(year))
	return fmt.Sprintf("%x", h.Sum(nil))[:fingerprintLen]
}

// Layout locates cache files and result directories.
type Layout struct {
	CacheDir  string
	OutputDir string
}

// CachePath is the final cache file for fp.
func (l Layout) CachePath(fp string) string {
	return filepath.Join(l.CacheDir, fp+cacheSuffix)
}

// PartialPath is the checkpoint file for fp.
func (l Layout) PartialPath(fp string) string {
	return filepath.Join(l.CacheDir, fp+partialSufx)
}

// QueryRoot is the output directory for query, keyed by its query-only fingerprint.
func (l Layout) QueryRoot(query string) string {
	return filepath.Join(l.OutputDir, Fingerprint(query, "", ""))
}

// For creates (if absent) and returns the query's output root and its
// results subdirectory. It never fails because the directories already exist.
func (l Layout) For(query string) (root, results string, err error) {
	root = l.QueryRoot(query)
	results = filepath.Join(root, resultsDir)
	if err := os.MkdirAll(results, 0o755); err != nil {
		return "", "", fmt.Errorf("creating output directory %s: %w", results, err)
	}
	if err := os.MkdirAll(l.CacheDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating cache directory %s: %w", l.CacheDir, err)
	}
	return root, results, nil
}

// Metadata describes a query's output directory.
type Metadata struct {
	Query     string `json:"query"`
	CreatedAt string `json:"created_at"`
}

// WriteMetadata writes root/metadata.json. Rewriting with a different
// timestamp is allowed; the query value stays the same for a given root.
func WriteMetadata(root, query string, createdAt time.Time) error {
	data, err := json.MarshalIndent(Metadata{
		Query:     query,
		CreatedAt: createdAt.Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	path := filepath.Join(root, metadataFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing metadata %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads root/metadata.json.
func ReadMetadata(root string) (Metadata, error) {
	var m Metadata
	data, err := os.ReadFile(filepath.Join(root, metadataFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing metadata: %w", err)
	}
	return m, nil
}
