// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine runs resumable semantic searches over the corpus.
//
// A search for (query, conference, year) classifies every paper in scope
// with a Judge on a bounded worker pool. Progress is checkpointed so an
// interrupted run resumes without reclassifying finished papers, and the
// final result is cached under the query fingerprint so repeating a search
// costs no classifier calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/layout"
	"github.com/pdiddy/paper-search/internal/results"
	"github.com/pdiddy/paper-search/pkg/types"
)

// Judge decides whether one paper is relevant to a query. Implementations
// must be safe for concurrent use.
type Judge interface {
	Classify(ctx context.Context, query string, paper types.PaperRecord) (bool, error)
}

// Summary holds counts from one search.
type Summary struct {
	// Total is the number of distinct papers in scope.
	Total int
	// Resumed is the number of papers already processed by an earlier run.
	Resumed int
	// Classified is the number of papers judged in this run, including failures.
	Classified int
	// Relevant is the size of the final result set.
	Relevant int
	// Failed is the number of papers whose judgment failed in this run.
	Failed int
}

// HasFailures reports whether any paper failed classification.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// Outcome is the result of one search.
type Outcome struct {
	Fingerprint string
	Results     []types.PaperRecord
	CacheHit    bool
	Summary     Summary
}

// Engine runs searches against a loaded corpus.
type Engine struct {
	judge  Judge
	corpus *corpus.Corpus
	layout layout.Layout
	cfg    types.SearchConfig
	logger *slog.Logger
	out    io.Writer
}

// New returns an Engine. Zero MaxWorkers and CheckpointInterval take the
// package defaults. Progress lines are written to out (io.Discard when nil).
func New(judge Judge, c *corpus.Corpus, cfg types.SearchConfig, logger *slog.Logger, out io.Writer) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = types.DefaultMaxWorkers
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = types.DefaultCheckpointInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &Engine{
		judge:  judge,
		corpus: c,
		layout: layout.Layout{CacheDir: cfg.CacheDir, OutputDir: cfg.OutputDir},
		cfg:    cfg,
		logger: logger,
		out:    out,
	}
}

// Layout returns the storage layout the engine writes to.
func (e *Engine) Layout() layout.Layout { return e.layout }

// unitResult is what a worker hands back to the orchestrator.
type unitResult struct {
	paper    types.PaperRecord
	relevant bool
	err      error
}

// runState is owned by the orchestrating goroutine only.
type runState struct {
	processed map[string]bool
	order     []string
	results   []types.PaperRecord
}

func (s *runState) record(r unitResult) {
	if s.processed[r.paper.Title] {
		return
	}
	s.processed[r.paper.Title] = true
	s.order = append(s.order, r.paper.Title)
	if r.err == nil && r.relevant {
		s.results = append(s.results, r.paper)
	}
}

func (s *runState) checkpoint() results.Checkpoint {
	return results.Checkpoint{
		Processed: append([]string{}, s.order...),
		Results:   append([]types.PaperRecord{}, s.results...),
	}
}

// Search classifies the papers matching conference and year (empty means
// unfiltered) against query.
//
// A readable final cache for the fingerprint is returned as-is when UseCache
// is set. Otherwise a checkpoint, when present and SavePartial is set,
// seeds the processed set. Failed judgments count as processed and not
// relevant. Cancellation or an auth rejection saves the checkpoint, skips
// the final cache, and returns the error with the partial outcome.
func (e *Engine) Search(ctx context.Context, query, conference, year string) (Outcome, error) {
	fp := layout.Fingerprint(query, conference, year)
	cachePath := e.layout.CachePath(fp)
	partialPath := e.layout.PartialPath(fp)
	log := e.logger.With("fingerprint", fp, "conference", conference, "year", year)

	if e.cfg.UseCache {
		cached, err := results.ReadCache(cachePath)
		switch {
		case err == nil:
			log.Info("cache hit", "results", len(cached))
			return Outcome{
				Fingerprint: fp,
				Results:     cached,
				CacheHit:    true,
				Summary:     Summary{Relevant: len(cached)},
			}, nil
		case !errors.Is(err, os.ErrNotExist):
			log.Warn("ignoring unreadable cache", "path", cachePath, "error", err)
		}
	}

	state := &runState{processed: make(map[string]bool)}
	if e.cfg.SavePartial {
		cp, err := results.ReadCheckpoint(partialPath)
		switch {
		case err == nil:
			for _, t := range cp.Processed {
				if !state.processed[t] {
					state.processed[t] = true
					state.order = append(state.order, t)
				}
			}
			state.results = cp.Results
			log.Info("resuming from checkpoint", "processed", len(state.order), "results", len(cp.Results))
		case !errors.Is(err, os.ErrNotExist):
			log.Warn("discarding unreadable checkpoint", "path", partialPath, "error", err)
		}
	}

	scope := e.corpus.Filter(conference, year)
	var todo []types.PaperRecord
	seen := make(map[string]bool, len(scope))
	var summary Summary
	for _, p := range scope {
		if seen[p.Title] {
			continue
		}
		seen[p.Title] = true
		summary.Total++
		if state.processed[p.Title] {
			summary.Resumed++
			continue
		}
		todo = append(todo, p)
	}

	log.Info("search started", "in_scope", summary.Total, "resumed", summary.Resumed, "to_classify", len(todo), "workers", e.cfg.MaxWorkers)

	runErr := e.classifyAll(ctx, query, todo, state, &summary, partialPath, log)

	outcome := Outcome{
		Fingerprint: fp,
		Results:     orderByScope(state.results, scope),
		Summary:     summary,
	}
	outcome.Summary.Relevant = len(outcome.Results)

	if runErr != nil {
		if e.cfg.SavePartial {
			if err := results.WriteCheckpoint(partialPath, state.checkpoint()); err != nil {
				log.Error("saving checkpoint after abort", "error", err)
			}
		}
		return outcome, runErr
	}

	if err := results.WriteCache(cachePath, outcome.Results); err != nil {
		return outcome, fmt.Errorf("writing cache: %w", err)
	}
	if err := results.RemoveCheckpoint(partialPath); err != nil {
		log.Warn("removing checkpoint", "path", partialPath, "error", err)
	}

	log.Info("search finished", "classified", summary.Classified, "relevant", outcome.Summary.Relevant, "failed", summary.Failed)
	return outcome, nil
}

// classifyAll runs todo through a fixed pool of workers. Only this
// goroutine mutates state and writes the checkpoint.
func (e *Engine) classifyAll(ctx context.Context, query string, todo []types.PaperRecord, state *runState, summary *Summary, partialPath string, log *slog.Logger) error {
	if len(todo) == 0 {
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan types.PaperRecord, len(todo))
	for _, p := range todo {
		jobs <- p
	}
	close(jobs)

	// Buffered to len(todo) so workers never block after the orchestrator stops reading.
	done := make(chan unitResult, len(todo))

	workers := e.cfg.MaxWorkers
	if workers > len(todo) {
		workers = len(todo)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if runCtx.Err() != nil {
					return
				}
				done <- e.classifyOne(runCtx, query, p)
			}
		}()
	}

	var fatal error
	completed := 0
	sinceCheckpoint := 0

	handle := func(r unitResult) {
		if r.err != nil {
			if runCtx.Err() != nil && errors.Is(r.err, runCtx.Err()) {
				// Interrupted, not judged: leave it for the next run.
				return
			}
			if classify.IsAuthError(r.err) {
				if fatal == nil {
					fatal = r.err
				}
				return
			}
			summary.Failed++
			log.Warn("classification failed", "title", r.paper.Title, "error", r.err)
		}
		state.record(r)
		summary.Classified++
		completed++
		sinceCheckpoint++
	}

loop:
	for completed < len(todo) && fatal == nil {
		select {
		case r := <-done:
			handle(r)
			if sinceCheckpoint >= e.cfg.CheckpointInterval {
				sinceCheckpoint = 0
				e.saveCheckpoint(partialPath, state, log)
				fmt.Fprintf(e.out, "progress %d/%d (relevant %d, failed %d)\n", completed, len(todo), len(state.results), summary.Failed)
			}
		case <-ctx.Done():
			break loop
		}
	}

	if fatal == nil && ctx.Err() == nil {
		wg.Wait()
		return nil
	}

	// Abort: stop the pool, then keep whatever finished in the meantime.
	cancel()
	wg.Wait()
	close(done)
	for r := range done {
		handle(r)
	}

	if fatal != nil {
		log.Error("aborting search on authentication failure", "error", fatal)
		return fmt.Errorf("reasoning service rejected credentials: %w", fatal)
	}
	log.Warn("search interrupted", "completed", completed, "remaining", len(todo)-completed)
	return ctx.Err()
}

// classifyOne judges one paper, converting a panic into an error.
func (e *Engine) classifyOne(ctx context.Context, query string, p types.PaperRecord) (r unitResult) {
	r.paper = p
	defer func() {
		if rec := recover(); rec != nil {
			r.relevant = false
			r.err = fmt.Errorf("classifier panic: %v", rec)
		}
	}()
	r.relevant, r.err = e.judge.Classify(ctx, query, p)
	return r
}

func (e *Engine) saveCheckpoint(path string, state *runState, log *slog.Logger) {
	if !e.cfg.SavePartial {
		return
	}
	if err := results.WriteCheckpoint(path, state.checkpoint()); err != nil {
		log.Warn("writing checkpoint", "path", path, "error", err)
	}
}

// orderByScope sorts results into scope order. Results whose titles are
// no longer in scope keep their relative order at the end.
func orderByScope(res []types.PaperRecord, scope []types.PaperRecord) []types.PaperRecord {
	pos := make(map[string]int, len(scope))
	for i, p := range scope {
		if _, ok := pos[p.Title]; !ok {
			pos[p.Title] = i
		}
	}
	out := make([]types.PaperRecord, len(res))
	copy(out, res)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i].Title]
		pj, jok := pos[out[j].Title]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}
