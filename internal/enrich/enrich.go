// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package enrich fills missing abstracts in corpus files, first from
// Semantic Scholar by DBLP key and then by scraping each remaining paper's
// venue page. Files are rewritten in place, preserving every field the
// bibliography API supplied; only the enriched fields change.
//
// Enrichment mutates the corpus and must not run alongside a search.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/fsutil"
	"github.com/pdiddy/paper-search/internal/retry"
	"github.com/pdiddy/paper-search/internal/spider"
)

// editorshipType entries describe proceedings volumes, not papers.
const editorshipType = "Editorship"

// Missing locates one corpus entry without an abstract.
type Missing struct {
	Path       string
	Conference string
	Year       string
	Index      int
	Title      string
	URL        string
}

// File is one <conf>/<year>.json corpus file.
type File struct {
	Path       string
	Conference string
	Year       string
}

// Files lists corpus files under root. Empty conference or year means all.
// Conferences whose directory or year file is missing are logged and
// skipped.
func Files(root, conference, year string, logger *slog.Logger) ([]File, error) {
	if logger == nil {
		logger = slog.Default()
	}

	confs := []string{conference}
	if conference == "" {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("reading corpus directory %s: %w", root, err)
		}
		confs = confs[:0]
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				confs = append(confs, e.Name())
			}
		}
	}

	var out []File
	for _, conf := range confs {
		paths, err := yearFiles(filepath.Join(root, conf), year)
		if err != nil {
			logger.Warn("skipping conference", "conference", conf, "error", err)
			continue
		}
		for _, path := range paths {
			out = append(out, File{
				Path:       path,
				Conference: conf,
				Year:       strings.TrimSuffix(filepath.Base(path), ".json"),
			})
		}
	}
	return out, nil
}

// FindMissing lists entries under root that have an electronic-edition
// link but no abstract. Empty conference or year means all. Unreadable
// files are logged and skipped.
func FindMissing(root, conference, year string, logger *slog.Logger) ([]Missing, error) {
	if logger == nil {
		logger = slog.Default()
	}
	files, err := Files(root, conference, year, logger)
	if err != nil {
		return nil, err
	}

	var out []Missing
	for _, f := range files {
		hits, err := ReadHits(f.Path)
		if err != nil {
			logger.Warn("skipping unreadable corpus file", "path", f.Path, "error", err)
			continue
		}
		for i, h := range hits {
			if !needsAbstract(h) {
				continue
			}
			u := h.Info.EE.First()
			if u == "" {
				continue
			}
			out = append(out, Missing{Path: f.Path, Conference: f.Conference, Year: f.Year, Index: i, Title: h.Info.Title, URL: u})
		}
	}
	return out, nil
}

func needsAbstract(h corpus.Hit) bool {
	return h.Info.Type != editorshipType && strings.TrimSpace(h.Info.Abstract) == ""
}

func yearFiles(dir, year string) ([]string, error) {
	if year != "" {
		path := filepath.Join(dir, year+".json")
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadHits parses one corpus file.
func ReadHits(path string) ([]corpus.Hit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hits []corpus.Hit
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// Summary holds counts from an enrichment run.
type Summary struct {
	Updated int `yaml:"updated"`
	Failed  int `yaml:"failed"`
}

// Total returns the number of papers attempted.
func (s Summary) Total() int { return s.Updated + s.Failed }

// HasFailures reports whether any paper could not be enriched.
func (s Summary) HasFailures() bool { return s.Failed > 0 }

// AdapterFunc returns the site adapter for a conference.
type AdapterFunc func(conference string) (spider.Adapter, error)

// Enricher updates corpus files under Root.
type Enricher struct {
	Root     string
	Adapters AdapterFunc
	// Delay is the pause between consecutive papers.
	Delay  time.Duration
	Logger *slog.Logger
	Out    io.Writer
}

// Run enriches every missing entry matching conference and year. Each
// corpus file is rewritten at most once, after all of its papers were
// attempted. Cancellation stops the run after writing what was gathered.
func (e *Enricher) Run(ctx context.Context, conference, year string) (Summary, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := e.Out
	if out == nil {
		out = io.Discard
	}

	missing, err := FindMissing(e.Root, conference, year, logger)
	if err != nil {
		return Summary{}, err
	}
	fmt.Fprintf(out, "%d papers missing abstracts\n", len(missing))

	byFile := make(map[string][]Missing)
	var paths []string
	for _, m := range missing {
		if _, ok := byFile[m.Path]; !ok {
			paths = append(paths, m.Path)
		}
		byFile[m.Path] = append(byFile[m.Path], m)
	}

	adapters := make(map[string]spider.Adapter)
	var summary Summary
	first := true

	for _, path := range paths {
		updates := make(map[int]spider.PaperInfo)
		for _, m := range byFile[path] {
			if ctx.Err() != nil {
				break
			}
			if !first && e.Delay > 0 {
				if err := retry.Sleep(ctx, e.Delay); err != nil {
					break
				}
			}
			first = false

			a, ok := adapters[m.Conference]
			if !ok {
				a, err = e.Adapters(m.Conference)
				if err != nil {
					return summary, fmt.Errorf("adapter for %s: %w", m.Conference, err)
				}
				adapters[m.Conference] = a
			}

			info, err := a.PaperInfo(ctx, m.URL)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					break
				}
				summary.Failed++
				fmt.Fprintf(out, "failed  %s/%s #%d %s: %v\n", m.Conference, m.Year, m.Index, m.Title, err)
				continue
			}
			updates[m.Index] = info
			summary.Updated++
			fmt.Fprintf(out, "updated %s/%s #%d %s\n", m.Conference, m.Year, m.Index, m.Title)
		}

		if len(updates) > 0 {
			if err := applyUpdates(path, updates); err != nil {
				return summary, fmt.Errorf("updating %s: %w", path, err)
			}
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
	}
	return summary, nil
}

// applyUpdates rewrites path with new abstract and pdf_url values for the
// given entry indexes.
func applyUpdates(path string, updates map[int]spider.PaperInfo) error {
	edits := make(map[int]Edit, len(updates))
	for idx, info := range updates {
		edits[idx] = Edit{Info: map[string]any{"abstract": info.Abstract, "pdf_url": info.PDFURL}}
	}
	return ApplyEdits(path, edits)
}

// Edit sets fields on one corpus entry. Info keys are written into the
// entry's info object and Entry keys onto the entry itself.
type Edit struct {
	Info  map[string]any
	Entry map[string]any
}

// ApplyEdits atomically rewrites path with edits keyed by entry index.
// Fields the edits do not name keep their original values.
func ApplyEdits(path string, edits map[int]Edit) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	for idx, edit := range edits {
		if idx < 0 || idx >= len(entries) {
			return fmt.Errorf("entry %d out of range", idx)
		}
		if entries[idx] == nil {
			entries[idx] = make(map[string]json.RawMessage)
		}
		if len(edit.Info) > 0 {
			var fields map[string]json.RawMessage
			if raw, ok := entries[idx]["info"]; ok {
				if err := json.Unmarshal(raw, &fields); err != nil {
					return fmt.Errorf("entry %d info: %w", idx, err)
				}
			}
			if fields == nil {
				fields = make(map[string]json.RawMessage)
			}
			if err := setFields(fields, edit.Info); err != nil {
				return fmt.Errorf("entry %d: %w", idx, err)
			}
			raw, err := json.Marshal(fields)
			if err != nil {
				return err
			}
			entries[idx]["info"] = raw
		}
		if err := setFields(entries[idx], edit.Entry); err != nil {
			return fmt.Errorf("entry %d: %w", idx, err)
		}
	}

	outData, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, outData)
}

func setFields(dst map[string]json.RawMessage, values map[string]any) error {
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", k, err)
		}
		dst[k] = raw
	}
	return nil
}
