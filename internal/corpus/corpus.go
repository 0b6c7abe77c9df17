// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus loads the enriched bibliography files into PaperRecords
// and selects search scopes from them.
//
// The corpus root holds one directory per conference and one JSON file per
// year: <root>/<conf>/<year>.json. Each file is an array of bibliography hits
// whose "info" object carries the paper fields.
package corpus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/paper-search/pkg/types"
)

// PaperType is the bibliography entry type kept in the corpus. Editorships,
// journal articles, and other types are dropped at load time.
const PaperType = "Conference and Workshop Papers"

// Corpus is the in-memory collection of papers. It is immutable after Load.
type Corpus struct {
	papers []types.PaperRecord
}

// Scope is one conference/year pair present in the corpus.
type Scope struct {
	Conference string `json:"conference" yaml:"conference"`
	Year       string `json:"year" yaml:"year"`
	Papers     int    `json:"papers" yaml:"papers"`
}

// New wraps already-normalized records, mainly for tests and the catalog.
func New(papers []types.PaperRecord) *Corpus {
	out := make([]types.PaperRecord, 0, len(papers))
	for _, p := range papers {
		if strings.TrimSpace(p.Title) == "" {
			continue
		}
		out = append(out, p.Normalized())
	}
	return &Corpus{papers: out}
}

// Load reads every <conf>/<year>.json under root. A missing or unreadable
// root is an error; malformed files are logged and skipped.
func Load(root string, logger *slog.Logger) (*Corpus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	confDirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory %s: %w", root, err)
	}

	c := &Corpus{}
	for _, confDir := range confDirs {
		if !confDir.IsDir() || strings.HasPrefix(confDir.Name(), ".") {
			continue
		}
		conf := confDir.Name()
		files, err := os.ReadDir(filepath.Join(root, conf))
		if err != nil {
			logger.Warn("skipping conference directory", "conference", conf, "error", err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			year := strings.TrimSuffix(f.Name(), ".json")
			path := filepath.Join(root, conf, f.Name())

			papers, err := ReadFile(path, conf, year)
			if err != nil {
				logger.Warn("skipping malformed corpus file", "path", path, "error", err)
				continue
			}
			c.papers = append(c.papers, papers...)
		}
	}

	logger.Debug("corpus loaded", "root", root, "papers", len(c.papers))
	return c, nil
}

// ReadFile parses one corpus file and returns the records that pass the
// type and title filters, tagged with conf and year.
func ReadFile(path, conf, year string) ([]types.PaperRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var papers []types.PaperRecord
	for _, h := range hits {
		if h.Info.Type != PaperType {
			continue
		}
		title := strings.TrimSpace(h.Info.Title)
		if title == "" {
			continue
		}
		papers = append(papers, types.PaperRecord{
			Title:      title,
			Abstract:   h.Info.Abstract,
			Year:       year,
			Conference: conf,
			URL:        h.Info.EE.First(),
			DBLPKey:    h.Info.Key,
			Keywords:   h.Info.Keywords.Values(),
		})
	}
	return papers, nil
}

// Len returns the number of papers in the corpus.
func (c *Corpus) Len() int { return len(c.papers) }

// Papers returns a copy of all records.
func (c *Corpus) Papers() []types.PaperRecord {
	return append([]types.PaperRecord(nil), c.papers...)
}

// Filter returns the papers matching conference and year. An empty
// argument does not filter on that field. The corpus itself is unchanged.
func (c *Corpus) Filter(conference, year string) []types.PaperRecord {
	out := make([]types.PaperRecord, 0)
	for _, p := range c.papers {
		if conference != "" && p.Conference != conference {
			continue
		}
		if year != "" && p.Year != year {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Scopes lists the conference/year pairs present, sorted by conference then year.
func (c *Corpus) Scopes() []Scope {
	counts := make(map[[2]string]int)
	for _, p := range c.papers {
		counts[[2]string{p.Conference, p.Year}]++
	}
	scopes := make([]Scope, 0, len(counts))
	for k, n := range counts {
		scopes = append(scopes, Scope{Conference: k[0], Year: k[1], Papers: n})
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].Conference != scopes[j].Conference {
			return scopes[i].Conference < scopes[j].Conference
		}
		return scopes[i].Year < scopes[j].Year
	})
	return scopes
}
