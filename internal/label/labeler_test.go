// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package label

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/enrich"
	"github.com/pdiddy/paper-search/internal/results"
	"github.com/pdiddy/paper-search/pkg/types"
)

const ccs2020 = `[
  {"@score": "1", "info": {"type": "Conference and Workshop Papers", "title": "Kernel Fuzzing", "abstract": "We fuzz kernels.", "key": "conf/ccs/K20", "pages": "1-12"}},
  {"@score": "2", "info": {"type": "Conference and Workshop Papers", "title": "Already Labeled", "keywords": ["TLS"]}},
  {"@score": "3", "info": {"type": "Editorship", "title": "Proceedings"}},
  {"@score": "4", "info": {"type": "Conference and Workshop Papers", "title": "Flaky Paper", "abstract": "x"}},
  {"@score": "5", "info": {"type": "Conference and Workshop Papers", "title": "Side Channels", "abstract": "Cache timing."}}
]`

// fakeSource answers from a fixed table and records every call.
type fakeSource struct {
	mu       sync.Mutex
	keywords map[string][]string
	fail     map[string]error
	panics   map[string]bool
	calls    []string
	onCall   func(n int) error
}

func (s *fakeSource) Keywords(_ context.Context, p types.PaperRecord) ([]string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, p.Title)
	n := len(s.calls)
	s.mu.Unlock()

	if s.onCall != nil {
		if err := s.onCall(n); err != nil {
			return nil, err
		}
	}
	if s.panics[p.Title] {
		panic("boom")
	}
	if err := s.fail[p.Title]; err != nil {
		return nil, err
	}
	return s.keywords[p.Title], nil
}

func (s *fakeSource) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func writeCorpusFile(t *testing.T, root, conf, year, body string) string {
	t.Helper()
	path := filepath.Join(root, conf, year+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func keywordsByTitle(t *testing.T, path string) map[string][]string {
	t.Helper()
	hits, err := enrich.ReadHits(path)
	require.NoError(t, err)
	out := map[string][]string{}
	for _, h := range hits {
		out[h.Info.Title] = h.Info.Keywords.Values()
	}
	return out
}

func newLabeler(t *testing.T, root string, src KeywordSource) *Labeler {
	t.Helper()
	return &Labeler{
		Source:             src,
		Root:               root,
		CacheDir:           filepath.Join(t.TempDir(), "keywords"),
		MaxWorkers:         3,
		CheckpointInterval: 1,
	}
}

func TestLabeler_WritesKeywordsPreservingFields(t *testing.T) {
	root := t.TempDir()
	path := writeCorpusFile(t, root, "ccs", "2020", ccs2020)

	src := &fakeSource{
		keywords: map[string][]string{
			"Kernel Fuzzing": {"Kernel Fuzzing", "System Calls"},
			"Side Channels":  {"Cache Timing"},
		},
		fail: map[string]error{"Flaky Paper": &classify.APIError{StatusCode: 500, Message: "down"}},
	}
	var out bytes.Buffer
	l := newLabeler(t, root, src)
	l.Out = &out

	summary, err := l.Run(context.Background(), "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, Summary{Labeled: 2, Existing: 1, Failed: 1}, summary)
	assert.True(t, summary.HasFailures())
	assert.ElementsMatch(t, []string{"Kernel Fuzzing", "Flaky Paper", "Side Channels"}, src.called())
	assert.Contains(t, out.String(), "labeled  ccs/2020: 2 new, 1 failed")

	got := keywordsByTitle(t, path)
	assert.Equal(t, []string{"Kernel Fuzzing", "System Calls"}, got["Kernel Fuzzing"])
	assert.Equal(t, []string{"TLS"}, got["Already Labeled"])
	assert.Equal(t, []string{"Cache Timing"}, got["Side Channels"])
	assert.Empty(t, got["Flaky Paper"])
	assert.Empty(t, got["Proceedings"])
	assert.NoFileExists(t, l.CheckpointPath("ccs", "2020"))

	var raw []map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	info := raw[0]["info"].(map[string]any)
	assert.Equal(t, "1-12", info["pages"])
	assert.Equal(t, "We fuzz kernels.", info["abstract"])
	assert.Equal(t, "1", raw[0]["@score"])

	// The next run only retries the failure.
	src.fail = nil
	src.keywords["Flaky Paper"] = []string{"Flakiness"}
	src.calls = nil
	summary, err = l.Run(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Labeled: 1, Existing: 3}, summary)
	assert.Equal(t, []string{"Flaky Paper"}, src.called())
}

func TestLabeler_ResumesFromCheckpoint(t *testing.T) {
	root := t.TempDir()
	path := writeCorpusFile(t, root, "ccs", "2020", ccs2020)
	src := &fakeSource{keywords: map[string][]string{
		"Flaky Paper":   {"Flakiness"},
		"Side Channels": {"Cache Timing"},
	}}
	l := newLabeler(t, root, src)

	require.NoError(t, results.WriteCheckpoint(l.CheckpointPath("ccs", "2020"), results.Checkpoint{
		Processed: []string{"Kernel Fuzzing", "Gone Paper"},
		Results: []types.PaperRecord{
			{Title: "Kernel Fuzzing", Keywords: []string{"From Checkpoint"}},
			{Title: "Gone Paper", Keywords: []string{"Stale"}},
		},
	}))

	summary, err := l.Run(context.Background(), "ccs", "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Labeled: 2, Resumed: 1, Existing: 1}, summary)
	assert.ElementsMatch(t, []string{"Flaky Paper", "Side Channels"}, src.called())
	assert.Equal(t, []string{"From Checkpoint"}, keywordsByTitle(t, path)["Kernel Fuzzing"])
	assert.NoFileExists(t, l.CheckpointPath("ccs", "2020"))
}

func TestLabeler_CancelSavesCheckpoint(t *testing.T) {
	root := t.TempDir()
	path := writeCorpusFile(t, root, "ccs", "2020", ccs2020)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{
		keywords: map[string][]string{"Kernel Fuzzing": {"Fuzzing"}},
		onCall: func(n int) error {
			if n == 1 {
				return nil
			}
			cancel()
			return context.Canceled
		},
	}
	l := newLabeler(t, root, src)
	l.MaxWorkers = 1

	summary, err := l.Run(ctx, "", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Labeled)
	assert.Zero(t, summary.Failed)

	cp, err := results.ReadCheckpoint(l.CheckpointPath("ccs", "2020"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Kernel Fuzzing"}, cp.Processed)
	assert.Equal(t, []string{"Fuzzing"}, keywordsByTitle(t, path)["Kernel Fuzzing"])
}

func TestLabeler_AuthErrorAborts(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "ccs", "2020", ccs2020)
	writeCorpusFile(t, root, "sp", "2021", `[{"info": {"type": "Conference and Workshop Papers", "title": "Later"}}]`)

	src := &fakeSource{fail: map[string]error{
		"Kernel Fuzzing": &classify.APIError{StatusCode: 401, Message: "bad key"},
		"Flaky Paper":    &classify.APIError{StatusCode: 401, Message: "bad key"},
		"Side Channels":  &classify.APIError{StatusCode: 401, Message: "bad key"},
	}}
	l := newLabeler(t, root, src)
	l.MaxWorkers = 1

	_, err := l.Run(context.Background(), "", "")
	require.Error(t, err)
	assert.True(t, classify.IsAuthError(err))
	assert.NotContains(t, src.called(), "Later")
	assert.FileExists(t, l.CheckpointPath("ccs", "2020"))
}

func TestLabeler_PanicIsContained(t *testing.T) {
	root := t.TempDir()
	path := writeCorpusFile(t, root, "ccs", "2020", ccs2020)
	src := &fakeSource{
		keywords: map[string][]string{"Kernel Fuzzing": {"Fuzzing"}, "Side Channels": {"Timing"}},
		panics:   map[string]bool{"Flaky Paper": true},
	}

	summary, err := newLabeler(t, root, src).Run(context.Background(), "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"Timing"}, keywordsByTitle(t, path)["Side Channels"])
}

func TestLabeler_WithScriptedBackend(t *testing.T) {
	root := t.TempDir()
	path := writeCorpusFile(t, root, "sp", "2021", `[
  {"info": {"type": "Conference and Workshop Papers", "title": "MACE", "abstract": "Privilege escalation in web apps."}},
  {"info": {"type": "Conference and Workshop Papers", "title": "Spectre Returns", "abstract": "Speculative execution."}}
]`)
	b := &scriptedBackend{replies: map[string]string{
		"MACE":            `{"keywords": ["Web Application Security", "Access Control", "Privilege Escalation", "Authorization Vulnerabilities", "HPE", "extra"]}`,
		"Spectre Returns": "```json\n[\"Speculative Execution\", \"Transient Execution Attacks\"]\n```",
	}}
	l := NewLabeler(NewWithBackend(b, fastPolicy()), types.LabelConfig{
		CorpusDir: root,
		CacheDir:  t.TempDir(),
	}, nil, nil)

	summary, err := l.Run(context.Background(), "sp", "2021")
	require.NoError(t, err)
	assert.Equal(t, Summary{Labeled: 2}, summary)

	got := keywordsByTitle(t, path)
	assert.Len(t, got["MACE"], KeywordCount)
	assert.Equal(t, "Web Application Security", got["MACE"][0])
	assert.Equal(t, []string{"Speculative Execution", "Transient Execution Attacks"}, got["Spectre Returns"])
}

func TestLabeler_CompleteFileUntouched(t *testing.T) {
	root := t.TempDir()
	path := writeCorpusFile(t, root, "uss", "2022", `[{"info": {"type": "Conference and Workshop Papers", "title": "Done", "keywords": "single"}}]`)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	var out bytes.Buffer
	l := newLabeler(t, root, &fakeSource{})
	l.Out = &out
	summary, err := l.Run(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Existing: 1}, summary)
	assert.Contains(t, out.String(), "complete uss/2022")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
