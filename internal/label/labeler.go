// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package label

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/enrich"
	"github.com/pdiddy/paper-search/internal/results"
	"github.com/pdiddy/paper-search/pkg/types"
)

// Defaults for Labeler fields left zero.
const (
	DefaultCacheDir           = "data/cache/keywords"
	DefaultCheckpointInterval = 5
)

// KeywordSource produces keywords for one paper. Implementations must be
// safe for concurrent use.
type KeywordSource interface {
	Keywords(ctx context.Context, paper types.PaperRecord) ([]string, error)
}

// Summary holds counts from a labeling run.
type Summary struct {
	// Labeled is the number of papers given keywords in this run.
	Labeled int `yaml:"labeled"`
	// Resumed is the number of papers whose keywords came from a checkpoint.
	Resumed int `yaml:"resumed"`
	// Existing is the number of papers that already had keywords.
	Existing int `yaml:"existing"`
	Failed   int `yaml:"failed"`
}

// HasFailures reports whether any paper could not be labeled.
func (s Summary) HasFailures() bool { return s.Failed > 0 }

func (s *Summary) add(o Summary) {
	s.Labeled += o.Labeled
	s.Resumed += o.Resumed
	s.Existing += o.Existing
	s.Failed += o.Failed
}

// Labeler writes keywords into corpus files under Root. Each venue-year is
// labeled on a worker pool; progress is checkpointed under CacheDir so an
// interrupted run resumes without repeating finished papers. The corpus
// file is rewritten once per venue-year, after its pool drains.
//
// Labeling mutates the corpus and must not run alongside a search.
type Labeler struct {
	Source             KeywordSource
	Root               string
	CacheDir           string
	MaxWorkers         int
	CheckpointInterval int
	Logger             *slog.Logger
	Out                io.Writer
}

// NewLabeler builds a Labeler from configuration.
func NewLabeler(src KeywordSource, cfg types.LabelConfig, logger *slog.Logger, out io.Writer) *Labeler {
	return &Labeler{
		Source:             src,
		Root:               cfg.CorpusDir,
		CacheDir:           cfg.CacheDir,
		MaxWorkers:         cfg.MaxWorkers,
		CheckpointInterval: cfg.CheckpointInterval,
		Logger:             logger,
		Out:                out,
	}
}

// CheckpointPath returns the checkpoint file for one venue-year.
func (l *Labeler) CheckpointPath(conference, year string) string {
	dir := l.CacheDir
	if dir == "" {
		dir = DefaultCacheDir
	}
	return filepath.Join(dir, conference+"_"+year+"_keywords.partial.json")
}

// Run labels every paper without keywords in the corpus files matching
// conference and year. Empty means all. Failed papers are left unlabeled
// for the next run. Cancellation or an auth rejection writes what was
// gathered, saves the checkpoint and returns the error.
func (l *Labeler) Run(ctx context.Context, conference, year string) (Summary, error) {
	files, err := enrich.Files(l.Root, conference, year, l.logger())
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		s, err := l.labelFile(ctx, f)
		summary.add(s)
		if err != nil {
			return summary, err
		}
	}
	return summary, nil
}

var errNoKeywords = errors.New("no keywords returned")

type job struct {
	index int
	paper types.PaperRecord
}

type outcome struct {
	job      job
	keywords []string
	err      error
}

func (l *Labeler) labelFile(ctx context.Context, f enrich.File) (Summary, error) {
	var summary Summary
	label := f.Conference + "/" + f.Year
	log := l.logger().With("conference", f.Conference, "year", f.Year)
	out := l.out()

	hits, err := enrich.ReadHits(f.Path)
	if err != nil {
		log.Warn("skipping unreadable corpus file", "path", f.Path, "error", err)
		return summary, nil
	}

	cpPath := l.CheckpointPath(f.Conference, f.Year)
	var cp results.Checkpoint
	done := make(map[string][]string)
	switch loaded, err := results.ReadCheckpoint(cpPath); {
	case err == nil:
		cp = loaded
		for _, r := range cp.Results {
			if len(r.Keywords) > 0 {
				done[r.Title] = r.Keywords
			}
		}
		log.Info("resuming from checkpoint", "labeled", len(done))
	case !errors.Is(err, os.ErrNotExist):
		log.Warn("discarding unreadable checkpoint", "path", cpPath, "error", err)
	}

	edits := make(map[int]enrich.Edit)
	var todo []job
	for i, h := range hits {
		title := strings.TrimSpace(h.Info.Title)
		if h.Info.Type != corpus.PaperType || title == "" {
			continue
		}
		if len(h.Info.Keywords.Values()) > 0 {
			summary.Existing++
			continue
		}
		if kw, ok := done[title]; ok {
			edits[i] = keywordEdit(kw)
			summary.Resumed++
			continue
		}
		todo = append(todo, job{index: i, paper: types.PaperRecord{
			Title:      title,
			Abstract:   h.Info.Abstract,
			Conference: f.Conference,
			Year:       f.Year,
			DBLPKey:    h.Info.Key,
		}})
	}

	if len(todo) == 0 && len(edits) == 0 {
		fmt.Fprintf(out, "complete %s\n", label)
		return summary, nil
	}
	fmt.Fprintf(out, "labeling %s: %d papers (%d resumed)\n", label, len(todo), summary.Resumed)

	runErr := l.labelAll(ctx, todo, &cp, edits, &summary, cpPath, log)

	if len(edits) > 0 {
		if err := enrich.ApplyEdits(f.Path, edits); err != nil {
			l.saveCheckpoint(cpPath, cp, log)
			return summary, fmt.Errorf("updating %s: %w", f.Path, err)
		}
	}
	if runErr != nil {
		l.saveCheckpoint(cpPath, cp, log)
		return summary, runErr
	}
	if err := results.RemoveCheckpoint(cpPath); err != nil {
		log.Warn("removing checkpoint", "path", cpPath, "error", err)
	}
	fmt.Fprintf(out, "labeled  %s: %d new, %d failed\n", label, summary.Labeled, summary.Failed)
	return summary, nil
}

// labelAll runs todo through a fixed pool of workers. Only this goroutine
// touches cp, edits and summary.
func (l *Labeler) labelAll(ctx context.Context, todo []job, cp *results.Checkpoint, edits map[int]enrich.Edit, summary *Summary, cpPath string, log *slog.Logger) error {
	if len(todo) == 0 {
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, len(todo))
	for _, j := range todo {
		jobs <- j
	}
	close(jobs)
	done := make(chan outcome, len(todo))

	workers := l.MaxWorkers
	if workers <= 0 {
		workers = types.DefaultMaxWorkers
	}
	if workers > len(todo) {
		workers = len(todo)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if runCtx.Err() != nil {
					return
				}
				done <- l.labelOne(runCtx, j)
			}
		}()
	}

	interval := l.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}

	var fatal error
	completed, sinceCheckpoint := 0, 0
	handle := func(o outcome) {
		if o.err != nil {
			if runCtx.Err() != nil && errors.Is(o.err, runCtx.Err()) {
				return
			}
			if classify.IsAuthError(o.err) {
				if fatal == nil {
					fatal = o.err
				}
				return
			}
			summary.Failed++
			log.Warn("keyword extraction failed", "title", o.job.paper.Title, "error", o.err)
		} else {
			rec := o.job.paper
			rec.Abstract = ""
			rec.Keywords = o.keywords
			cp.Processed = append(cp.Processed, rec.Title)
			cp.Results = append(cp.Results, rec)
			edits[o.job.index] = keywordEdit(o.keywords)
			summary.Labeled++
		}
		completed++
		sinceCheckpoint++
	}

loop:
	for completed < len(todo) && fatal == nil {
		select {
		case o := <-done:
			handle(o)
			if sinceCheckpoint >= interval {
				sinceCheckpoint = 0
				l.saveCheckpoint(cpPath, *cp, log)
				fmt.Fprintf(l.out(), "progress %d/%d (failed %d)\n", completed, len(todo), summary.Failed)
			}
		case <-ctx.Done():
			break loop
		}
	}

	if fatal == nil && ctx.Err() == nil {
		wg.Wait()
		return nil
	}

	cancel()
	wg.Wait()
	close(done)
	for o := range done {
		handle(o)
	}

	if fatal != nil {
		log.Error("aborting labeling on authentication failure", "error", fatal)
		return fmt.Errorf("reasoning service rejected credentials: %w", fatal)
	}
	log.Warn("labeling interrupted", "completed", completed, "remaining", len(todo)-completed)
	return ctx.Err()
}

// labelOne extracts keywords for one paper, converting a panic into an error.
func (l *Labeler) labelOne(ctx context.Context, j job) (o outcome) {
	o.job = j
	defer func() {
		if rec := recover(); rec != nil {
			o.keywords = nil
			o.err = fmt.Errorf("keyword extraction panic: %v", rec)
		}
	}()
	o.keywords, o.err = l.Source.Keywords(ctx, j.paper)
	if o.err == nil && len(o.keywords) == 0 {
		o.err = errNoKeywords
	}
	return o
}

func (l *Labeler) saveCheckpoint(path string, cp results.Checkpoint, log *slog.Logger) {
	if err := results.WriteCheckpoint(path, cp); err != nil {
		log.Warn("writing checkpoint", "path", path, "error", err)
	}
}

func keywordEdit(keywords []string) enrich.Edit {
	return enrich.Edit{Info: map[string]any{"keywords": keywords}}
}

func (l *Labeler) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Labeler) out() io.Writer {
	if l.Out != nil {
		return l.Out
	}
	return io.Discard
}
