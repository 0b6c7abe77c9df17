// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/layout"
	"github.com/pdiddy/paper-search/internal/results"
	"github.com/pdiddy/paper-search/pkg/types"
)

// fakeJudge answers from a fixed relevant set and records every call.
type fakeJudge struct {
	mu       sync.Mutex
	relevant map[string]bool
	fail     map[string]error
	panics   map[string]bool
	calls    []string
	onCall   func(ctx context.Context, n int, p types.PaperRecord) error
}

func (j *fakeJudge) Classify(ctx context.Context, _ string, p types.PaperRecord) (bool, error) {
	j.mu.Lock()
	j.calls = append(j.calls, p.Title)
	n := len(j.calls)
	j.mu.Unlock()

	if j.onCall != nil {
		if err := j.onCall(ctx, n, p); err != nil {
			return false, err
		}
	}
	if j.panics[p.Title] {
		panic("boom")
	}
	if err := j.fail[p.Title]; err != nil {
		return false, err
	}
	return j.relevant[p.Title], nil
}

func (j *fakeJudge) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.calls)
}

func records(conf, year string, titles ...string) []types.PaperRecord {
	out := make([]types.PaperRecord, len(titles))
	for i, t := range titles {
		out[i] = types.PaperRecord{Title: t, Abstract: "about " + t, Conference: conf, Year: year}
	}
	return out
}

func testConfig(t *testing.T) types.SearchConfig {
	t.Helper()
	tmp := t.TempDir()
	return types.SearchConfig{
		CacheDir:           filepath.Join(tmp, "cache"),
		OutputDir:          filepath.Join(tmp, "out"),
		MaxWorkers:         4,
		CheckpointInterval: 1,
		UseCache:           true,
		SavePartial:        true,
	}
}

func titles(rs []types.PaperRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Title
	}
	return out
}

func TestSearch_ClassifiesAndCaches(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(append(records("ccs", "2020", "A", "B", "C"), records("sp", "2020", "D")...))
	judge := &fakeJudge{relevant: map[string]bool{"A": true, "C": true, "D": true}}
	e := New(judge, c, cfg, nil, nil)

	out, err := e.Search(context.Background(), "fuzzing", "ccs", "2020")
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, []string{"A", "C"}, titles(out.Results))
	assert.Equal(t, Summary{Total: 3, Classified: 3, Relevant: 2}, out.Summary)
	assert.Equal(t, 3, judge.callCount())

	fp := layout.Fingerprint("fuzzing", "ccs", "2020")
	assert.Equal(t, fp, out.Fingerprint)
	assert.FileExists(t, e.Layout().CachePath(fp))
	assert.NoFileExists(t, e.Layout().PartialPath(fp))

	again, err := e.Search(context.Background(), "fuzzing", "ccs", "2020")
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, titles(out.Results), titles(again.Results))
	assert.Equal(t, 3, judge.callCount(), "cache hit must not call the classifier")
}

func TestSearch_NoCacheReclassifies(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseCache = false
	c := corpus.New(records("ccs", "2020", "A", "B"))
	judge := &fakeJudge{relevant: map[string]bool{"A": true}}
	e := New(judge, c, cfg, nil, nil)

	_, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	out, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 4, judge.callCount())
	assert.Equal(t, []string{"A"}, titles(out.Results))
}

func TestSearch_ResumesFromCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A", "B", "C"))
	judge := &fakeJudge{relevant: map[string]bool{"A": true, "C": true}}
	e := New(judge, c, cfg, nil, nil)

	fp := layout.Fingerprint("fuzzing", "ccs", "2020")
	require.NoError(t, results.WriteCheckpoint(e.Layout().PartialPath(fp), results.Checkpoint{
		Processed: []string{"A"},
		Results:   records("ccs", "2020", "A"),
	}))

	out, err := e.Search(context.Background(), "fuzzing", "ccs", "2020")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "C"}, judge.calls)
	assert.Equal(t, []string{"A", "C"}, titles(out.Results))
	assert.Equal(t, 1, out.Summary.Resumed)
	assert.Equal(t, 2, out.Summary.Classified)
	assert.NoFileExists(t, e.Layout().PartialPath(fp))
}

func TestSearch_CorruptCheckpointStartsFresh(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A", "B"))
	judge := &fakeJudge{relevant: map[string]bool{"B": true}}
	e := New(judge, c, cfg, nil, nil)

	fp := layout.Fingerprint("q", "ccs", "2020")
	require.NoError(t, os.MkdirAll(cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(e.Layout().PartialPath(fp), []byte("{broken"), 0o644))

	out, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, 2, judge.callCount())
	assert.Equal(t, []string{"B"}, titles(out.Results))
}

func TestSearch_CorruptCacheIsMiss(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A"))
	judge := &fakeJudge{relevant: map[string]bool{"A": true}}
	e := New(judge, c, cfg, nil, nil)

	fp := layout.Fingerprint("q", "ccs", "2020")
	require.NoError(t, os.MkdirAll(cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(e.Layout().CachePath(fp), []byte("not json"), 0o644))

	out, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 1, judge.callCount())

	cached, err := results.ReadCache(e.Layout().CachePath(fp))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles(cached))
}

func TestSearch_FailuresAreContained(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A", "B", "C", "D"))
	judge := &fakeJudge{
		relevant: map[string]bool{"A": true, "B": true, "C": true},
		fail:     map[string]error{"B": errors.New("after 3 attempts: 503")},
		panics:   map[string]bool{"C": true},
	}
	e := New(judge, c, cfg, nil, nil)

	out, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, titles(out.Results))
	assert.Equal(t, 2, out.Summary.Failed)
	assert.Equal(t, 4, out.Summary.Classified)
	assert.True(t, out.Summary.HasFailures())

	// Failed papers count as processed: a cached rerun does not retry them.
	again, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, 4, judge.callCount())
}

func TestSearch_EmptyScope(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A"))
	judge := &fakeJudge{}
	e := New(judge, c, cfg, nil, nil)

	out, err := e.Search(context.Background(), "q", "uss", "2020")
	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
	assert.Zero(t, judge.callCount())

	data, err := os.ReadFile(e.Layout().CachePath(out.Fingerprint))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestSearch_DuplicateTitlesClassifiedOnce(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A", "A", "B"))
	judge := &fakeJudge{relevant: map[string]bool{"A": true}}
	e := New(judge, c, cfg, nil, nil)

	out, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, 2, judge.callCount())
	assert.Equal(t, []string{"A"}, titles(out.Results))
	assert.Equal(t, 2, out.Summary.Total)
}

func TestSearch_StaleProcessedTitlesAreInert(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A", "B"))
	judge := &fakeJudge{relevant: map[string]bool{"A": true}}
	e := New(judge, c, cfg, nil, nil)

	fp := layout.Fingerprint("q", "ccs", "2020")
	require.NoError(t, results.WriteCheckpoint(e.Layout().PartialPath(fp), results.Checkpoint{Processed: []string{"Ghost"}}))

	out, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, 2, judge.callCount())
	assert.Equal(t, 0, out.Summary.Resumed)
	assert.Equal(t, []string{"A"}, titles(out.Results))
}

func TestSearch_CancelSavesCheckpointAndResumes(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = 1
	c := corpus.New(records("ccs", "2020", "P1", "P2", "P3", "P4", "P5"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := &fakeJudge{
		relevant: map[string]bool{"P1": true, "P4": true},
		onCall: func(ctx context.Context, n int, _ types.PaperRecord) error {
			if n == 3 {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	}
	e := New(first, c, cfg, nil, nil)

	_, err := e.Search(ctx, "q", "ccs", "2020")
	require.ErrorIs(t, err, context.Canceled)

	fp := layout.Fingerprint("q", "ccs", "2020")
	assert.NoFileExists(t, e.Layout().CachePath(fp))

	cp, err := results.ReadCheckpoint(e.Layout().PartialPath(fp))
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, cp.Processed)
	assert.Equal(t, []string{"P1"}, titles(cp.Results))

	second := &fakeJudge{relevant: map[string]bool{"P1": true, "P4": true}}
	e = New(second, c, cfg, nil, nil)
	out, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, []string{"P3", "P4", "P5"}, second.calls)
	assert.Equal(t, []string{"P1", "P4"}, titles(out.Results))
	assert.NoFileExists(t, e.Layout().PartialPath(fp))
}

func TestSearch_AuthErrorAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = 1
	c := corpus.New(records("ccs", "2020", "A", "B", "C"))
	judge := &fakeJudge{
		relevant: map[string]bool{"A": true},
		fail:     map[string]error{"B": &classify.APIError{StatusCode: 401, Message: "invalid key"}},
	}
	e := New(judge, c, cfg, nil, nil)

	_, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.Error(t, err)
	assert.True(t, classify.IsAuthError(err))

	fp := layout.Fingerprint("q", "ccs", "2020")
	assert.NoFileExists(t, e.Layout().CachePath(fp))

	cp, err := results.ReadCheckpoint(e.Layout().PartialPath(fp))
	require.NoError(t, err)
	assert.Contains(t, cp.Processed, "A")
	assert.NotContains(t, cp.Processed, "B")
}

func TestSearch_WorkersRunConcurrently(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = 3
	c := corpus.New(records("ccs", "2020", "A", "B", "C"))

	var mu sync.Mutex
	active, peak := 0, 0
	judge := &fakeJudge{onCall: func(context.Context, int, types.PaperRecord) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}}
	e := New(judge, c, cfg, nil, nil)

	_, err := e.Search(context.Background(), "q", "ccs", "2020")
	require.NoError(t, err)
	assert.Greater(t, peak, 1)
	assert.LessOrEqual(t, peak, 3)
}

func TestRun_YearRange(t *testing.T) {
	cfg := testConfig(t)
	var papers []types.PaperRecord
	papers = append(papers, records("ccs", "2019", "A19", "B19")...)
	papers = append(papers, records("ccs", "2020", "A20")...)
	papers = append(papers, records("ccs", "2021", "A21", "B21")...)
	papers = append(papers, records("sp", "2020", "S20")...)
	c := corpus.New(papers)
	judge := &fakeJudge{relevant: map[string]bool{"A19": true, "B21": true, "A21": true, "S20": true}}
	e := New(judge, c, cfg, nil, nil)

	now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	defer func() { now = time.Now }()

	report, err := e.Run(context.Background(), RunOptions{Query: "side channels", Conference: "ccs", Years: "2019-2021"})
	require.NoError(t, err)
	require.Len(t, report.Years, 3)

	assert.Equal(t, filepath.Join(report.ResultsDir, "ccs_2019.jsonl"), report.Years[0].ScopeFile)
	assert.Equal(t, "", report.Years[1].ScopeFile, "no relevant papers in 2020")
	assert.Equal(t, filepath.Join(report.ResultsDir, "ccs_2021.jsonl"), report.Years[2].ScopeFile)

	all, err := results.ReadJSONL(report.ConcatPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"A19", "A21", "B21"}, titles(all))
	assert.Equal(t, titles(all), titles(report.Results))

	meta, err := layout.ReadMetadata(report.Root)
	require.NoError(t, err)
	assert.Equal(t, "side channels", meta.Query)
	assert.Equal(t, "2025-01-02T03:04:05Z", meta.CreatedAt)
	assert.Equal(t, e.Layout().QueryRoot("side channels"), report.Root)

	assert.Equal(t, 3, report.Summary().Relevant)
	assert.Equal(t, 5, report.Summary().Classified)

	// A repeated run is served entirely from cache.
	calls := judge.callCount()
	again, err := e.Run(context.Background(), RunOptions{Query: "side channels", Conference: "ccs", Years: "2019-2021"})
	require.NoError(t, err)
	assert.Equal(t, calls, judge.callCount())
	assert.Equal(t, titles(report.Results), titles(again.Results))
}

func TestRun_EndToEndScenario(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(records("ccs", "2020", "A", "B", "C"))
	judge := &fakeJudge{relevant: map[string]bool{"A": true, "C": true}}
	e := New(judge, c, cfg, nil, nil)
	opts := RunOptions{Query: "access control vulnerabilities", Conference: "ccs", Years: "2020"}

	report, err := e.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, report.Years, 1)
	assert.Equal(t, 3, judge.callCount())

	scopePath := filepath.Join(report.ResultsDir, "ccs_2020.jsonl")
	assert.Equal(t, scopePath, report.Years[0].ScopeFile)
	scope, err := os.ReadFile(scopePath)
	require.NoError(t, err)
	assert.Len(t, bytes.Split(bytes.TrimRight(scope, "\n"), []byte("\n")), 2)

	concat, err := os.ReadFile(report.ConcatPath)
	require.NoError(t, err)
	assert.Equal(t, scope, concat)

	recs, err := results.ReadJSONL(scopePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, titles(recs))

	fp := layout.Fingerprint(opts.Query, "ccs", "2020")
	assert.Equal(t, fp, report.Years[0].Outcome.Fingerprint)
	cachePath := e.Layout().CachePath(fp)
	cached, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.NoFileExists(t, e.Layout().PartialPath(fp))

	again, err := e.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, judge.callCount(), "second run is served from cache")
	assert.True(t, again.Years[0].Outcome.CacheHit)

	cachedAgain, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, cached, cachedAgain)

	scopeAgain, err := os.ReadFile(scopePath)
	require.NoError(t, err)
	assert.Equal(t, scope, scopeAgain)
}

func TestRun_AllConferencesScopeName(t *testing.T) {
	cfg := testConfig(t)
	c := corpus.New(append(records("ccs", "2020", "A"), records("sp", "2020", "B")...))
	judge := &fakeJudge{relevant: map[string]bool{"A": true, "B": true}}
	e := New(judge, c, cfg, nil, nil)

	report, err := e.Run(context.Background(), RunOptions{Query: "q", Years: "2020"})
	require.NoError(t, err)
	require.Len(t, report.Years, 1)
	assert.Equal(t, filepath.Join(report.ResultsDir, "all_2020.jsonl"), report.Years[0].ScopeFile)
	assert.Len(t, report.Results, 2)
}

func TestRun_RequiresQuery(t *testing.T) {
	e := New(&fakeJudge{}, corpus.New(nil), testConfig(t), nil, nil)
	_, err := e.Run(context.Background(), RunOptions{})
	assert.Error(t, err)
}
