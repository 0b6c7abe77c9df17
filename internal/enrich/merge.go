// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pdiddy/paper-search/internal/s2"
)

// PaperIDField is the entry-level field recording the matched Semantic
// Scholar paper.
const PaperIDField = "sema_paperId"

// PaperSource lists Semantic Scholar papers for one venue-year.
type PaperSource interface {
	Papers(ctx context.Context, conference string, year int) ([]s2.Paper, error)
}

// MergeSummary holds counts from a Semantic Scholar merge.
type MergeSummary struct {
	// Merged is the number of abstracts written.
	Merged int `yaml:"merged"`
	// Unmatched is the number of papers still missing an abstract.
	Unmatched int      `yaml:"unmatched"`
	Failed    []string `yaml:"failed,omitempty"`
}

// HasFailures reports whether any venue-year could not be fetched or written.
func (s MergeSummary) HasFailures() bool { return len(s.Failed) > 0 }

// Merger copies Semantic Scholar abstracts into corpus files under Root,
// matching entries by DBLP key.
type Merger struct {
	Root   string
	Source PaperSource
	Logger *slog.Logger
	Out    io.Writer
}

// Run merges abstracts for every corpus file matching conference and year.
// Only entries without an abstract are touched, and only when the matching
// Semantic Scholar paper has one. Files with nothing missing are not
// fetched. A venue-year that fails is recorded and the run continues; only
// cancellation stops it early.
func (m *Merger) Run(ctx context.Context, conference, year string) (MergeSummary, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := m.Out
	if out == nil {
		out = io.Discard
	}

	files, err := Files(m.Root, conference, year, logger)
	if err != nil {
		return MergeSummary{}, err
	}

	var summary MergeSummary
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		label := f.Conference + "/" + f.Year

		hits, err := ReadHits(f.Path)
		if err != nil {
			logger.Warn("skipping unreadable corpus file", "path", f.Path, "error", err)
			continue
		}
		var missing []int
		for i, h := range hits {
			if needsAbstract(h) && h.Info.Key != "" {
				missing = append(missing, i)
			}
		}
		if len(missing) == 0 {
			fmt.Fprintf(out, "complete %s\n", label)
			continue
		}

		y, err := strconv.Atoi(f.Year)
		if err != nil {
			logger.Warn("skipping corpus file with non-numeric year", "path", f.Path)
			continue
		}
		papers, err := m.Source.Papers(ctx, f.Conference, y)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed = append(summary.Failed, label)
			summary.Unmatched += len(missing)
			fmt.Fprintf(out, "failed   %s: %v\n", label, err)
			continue
		}
		index := s2.ByDBLPKey(papers)

		edits := make(map[int]Edit)
		for _, i := range missing {
			p, ok := index[hits[i].Info.Key]
			if !ok || strings.TrimSpace(p.Abstract) == "" {
				continue
			}
			edit := Edit{Info: map[string]any{"abstract": p.Abstract}}
			if p.PaperID != "" {
				edit.Entry = map[string]any{PaperIDField: p.PaperID}
			}
			edits[i] = edit
		}

		if len(edits) > 0 {
			if err := ApplyEdits(f.Path, edits); err != nil {
				summary.Failed = append(summary.Failed, label)
				summary.Unmatched += len(missing)
				fmt.Fprintf(out, "failed   %s: %v\n", label, err)
				continue
			}
		}
		summary.Merged += len(edits)
		summary.Unmatched += len(missing) - len(edits)
		fmt.Fprintf(out, "merged   %s: %d of %d missing (%d Semantic Scholar papers)\n", label, len(edits), len(missing), len(papers))
	}
	return summary, nil
}
