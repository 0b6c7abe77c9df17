// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package results persists search outcomes: the final cache for a
// fingerprint, the in-progress checkpoint, per-scope JSONL files, and the
// concatenated all_results.jsonl.
package results

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/paper-search/internal/fsutil"
	"github.com/pdiddy/paper-search/pkg/types"
)

// ConcatName is the file Concat writes inside a results directory.
const ConcatName = "all_results.jsonl"

// AllConferences names scope files for searches without a conference filter.
const AllConferences = "all"

// Checkpoint is the resumable state of an unfinished search.
type Checkpoint struct {
	Processed []string            `json:"processed"`
	Results   []types.PaperRecord `json:"results"`
}

// ErrCorrupt marks a cache or checkpoint file that exists but cannot be parsed.
var ErrCorrupt = errors.New("corrupt results file")

// ReadCache loads a final cache file. A missing file returns os.ErrNotExist.
func ReadCache(path string) ([]types.PaperRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []types.PaperRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return normalize(records), nil
}

// WriteCache atomically writes records as a JSON array.
func WriteCache(path string, records []types.PaperRecord) error {
	data, err := json.MarshalIndent(normalize(records), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data)
}

// ReadCheckpoint loads a checkpoint file. A missing file returns os.ErrNotExist.
func ReadCheckpoint(path string) (Checkpoint, error) {
	var cp Checkpoint
	data, err := os.ReadFile(path)
	if err != nil {
		return cp, err
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	cp.Results = normalize(cp.Results)
	if cp.Processed == nil {
		cp.Processed = []string{}
	}
	return cp, nil
}

// WriteCheckpoint atomically replaces the checkpoint file. Readers see
// either the previous or the new checkpoint, never a partial one.
func WriteCheckpoint(path string, cp Checkpoint) error {
	if cp.Processed == nil {
		cp.Processed = []string{}
	}
	cp.Results = normalize(cp.Results)
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data)
}

// RemoveCheckpoint deletes the checkpoint. A missing file is not an error.
func RemoveCheckpoint(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ScopeFileName returns "<conf>_<year>.jsonl", using "all" for an empty conference.
func ScopeFileName(conference, year string) string {
	if conference == "" {
		conference = AllConferences
	}
	return fmt.Sprintf("%s_%s.jsonl", conference, year)
}

// SaveScope writes records to dir/<conf>_<year>.jsonl, one JSON object per
// line, and returns the path. Empty input writes nothing and returns "".
func SaveScope(records []types.PaperRecord, dir, conference, year string) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r.Normalized()); err != nil {
			return "", fmt.Errorf("encoding %q: %w", r.Title, err)
		}
	}

	path := filepath.Join(dir, ScopeFileName(conference, year))
	if err := fsutil.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// Concat writes dir/all_results.jsonl as the line concatenation of every
// other *.jsonl file in dir, in name order. With no scope files the output
// is empty. Running it twice yields the same file.
func Concat(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading results directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == ConcatName || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		if err := appendLines(&buf, filepath.Join(dir, name)); err != nil {
			return "", err
		}
	}

	out := filepath.Join(dir, ConcatName)
	if err := fsutil.WriteFileAtomic(out, buf.Bytes()); err != nil {
		return "", err
	}
	return out, nil
}

// ReadJSONL decodes a JSONL file of PaperRecords.
func ReadJSONL(path string) ([]types.PaperRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := []types.PaperRecord{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r types.PaperRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		records = append(records, r.Normalized())
	}
	return records, sc.Err()
}

// appendLines copies the non-empty lines of path into buf, each newline-terminated.
func appendLines(buf *bytes.Buffer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return nil
}

func normalize(records []types.PaperRecord) []types.PaperRecord {
	out := make([]types.PaperRecord, len(records))
	for i, r := range records {
		out[i] = r.Normalized()
	}
	return out
}
