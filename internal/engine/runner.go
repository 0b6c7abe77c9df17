// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/layout"
	"github.com/pdiddy/paper-search/internal/results"
	"github.com/pdiddy/paper-search/pkg/types"
)

// now is the clock used for metadata timestamps. Tests override it.
var now = time.Now

// RunOptions selects the scopes of a multi-year search.
type RunOptions struct {
	Query      string
	Conference string
	// Years is a year-set spec such as "2019-2021"; empty uses the configured default.
	Years string
}

// YearReport is the outcome of one year's search.
type YearReport struct {
	Year      string
	Outcome   Outcome
	ScopeFile string
}

// RunReport is the outcome of a multi-year search.
type RunReport struct {
	Root       string
	ResultsDir string
	ConcatPath string
	Years      []YearReport
	Results    []types.PaperRecord
}

// Summary totals the per-year summaries.
func (r RunReport) Summary() Summary {
	var s Summary
	for _, y := range r.Years {
		s.Total += y.Outcome.Summary.Total
		s.Resumed += y.Outcome.Summary.Resumed
		s.Classified += y.Outcome.Summary.Classified
		s.Relevant += y.Outcome.Summary.Relevant
		s.Failed += y.Outcome.Summary.Failed
	}
	return s
}

// Run searches each year of opts.Years in ascending order, saving a scope
// file per year and concatenating them into all_results.jsonl. Years run
// one after another; parallelism is within a year. A failing year stops the
// run and returns the report so far along with the error.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	var report RunReport
	if opts.Query == "" {
		return report, fmt.Errorf("query is required")
	}

	root, dir, err := e.layout.For(opts.Query)
	if err != nil {
		return report, err
	}
	report.Root, report.ResultsDir = root, dir
	if err := layout.WriteMetadata(root, opts.Query, now()); err != nil {
		return report, err
	}

	fallback := e.cfg.Years
	if fallback == "" {
		fallback = types.DefaultYears
	}
	years := corpus.ParseYears(opts.Years, fallback, e.logger)
	report.Results = []types.PaperRecord{}

	for _, y := range years {
		year := strconv.Itoa(y)
		fmt.Fprintf(e.out, "searching %s %s\n", scopeLabel(opts.Conference), year)

		outcome, err := e.Search(ctx, opts.Query, opts.Conference, year)
		yr := YearReport{Year: year, Outcome: outcome}
		if err != nil {
			report.Years = append(report.Years, yr)
			return report, fmt.Errorf("searching %s: %w", year, err)
		}

		yr.ScopeFile, err = results.SaveScope(outcome.Results, dir, opts.Conference, year)
		if err != nil {
			return report, fmt.Errorf("saving results for %s: %w", year, err)
		}
		report.Years = append(report.Years, yr)
		report.Results = append(report.Results, outcome.Results...)

		status := "classified"
		if outcome.CacheHit {
			status = "cached"
		}
		fmt.Fprintf(e.out, "%-10s %s %s: %d relevant\n", status, scopeLabel(opts.Conference), year, len(outcome.Results))
	}

	report.ConcatPath, err = results.Concat(dir)
	if err != nil {
		return report, err
	}
	return report, nil
}

func scopeLabel(conference string) string {
	if conference == "" {
		return results.AllConferences
	}
	return conference
}
