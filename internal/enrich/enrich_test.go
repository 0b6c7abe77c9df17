// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/spider"
)

const sampleYear = `[
  {"@score": "1", "info": {"type": "Conference and Workshop Papers", "title": "Has Abstract", "abstract": "present", "ee": "https://doi.org/1", "venue": "CCS"}},
  {"@score": "2", "info": {"type": "Conference and Workshop Papers", "title": "Needs Abstract", "ee": ["https://doi.org/2", "https://mirror/2"], "venue": "CCS", "pages": "1-12"}},
  {"@score": "3", "info": {"type": "Editorship", "title": "Proceedings", "ee": "https://doi.org/3"}},
  {"@score": "4", "info": {"type": "Conference and Workshop Papers", "title": "No Link"}},
  {"@score": "5", "info": {"type": "Conference and Workshop Papers", "title": "Broken Page", "abstract": "", "ee": "https://doi.org/5"}}
]`

func writeYear(t *testing.T, root, conf, year, content string) string {
	t.Helper()
	dir := filepath.Join(root, conf)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, year+".json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFindMissing(t *testing.T) {
	root := t.TempDir()
	writeYear(t, root, "ccs", "2020", sampleYear)
	writeYear(t, root, "sp", "2021", `[{"info": {"type": "Conference and Workshop Papers", "title": "SP", "ee": "https://doi.org/9"}}]`)
	writeYear(t, root, "sp", "2022", `garbage`)

	all, err := FindMissing(root, "", "", nil)
	require.NoError(t, err)
	var got []string
	for _, m := range all {
		got = append(got, m.Title)
	}
	assert.Equal(t, []string{"Needs Abstract", "Broken Page", "SP"}, got)
	assert.Equal(t, "https://doi.org/2", all[0].URL)
	assert.Equal(t, 1, all[0].Index)

	ccs, err := FindMissing(root, "ccs", "2020", nil)
	require.NoError(t, err)
	assert.Len(t, ccs, 2)
}

type stubAdapter struct {
	mu    sync.Mutex
	infos map[string]spider.PaperInfo
	urls  []string
}

func (s *stubAdapter) PaperInfo(_ context.Context, u string) (spider.PaperInfo, error) {
	s.mu.Lock()
	s.urls = append(s.urls, u)
	s.mu.Unlock()
	info, ok := s.infos[u]
	if !ok {
		return spider.PaperInfo{}, spider.ErrNoAbstract
	}
	return info, nil
}

func TestRun_UpdatesInPlacePreservingFields(t *testing.T) {
	root := t.TempDir()
	path := writeYear(t, root, "ccs", "2020", sampleYear)

	stub := &stubAdapter{infos: map[string]spider.PaperInfo{
		"https://doi.org/2": {Abstract: "Fetched abstract.", PDFURL: "https://example.org/2.pdf"},
	}}
	e := &Enricher{Root: root, Adapters: func(string) (spider.Adapter, error) { return stub, nil }}

	summary, err := e.Run(context.Background(), "ccs", "")
	require.NoError(t, err)
	assert.Equal(t, Summary{Updated: 1, Failed: 1}, summary)
	assert.True(t, summary.HasFailures())
	assert.Equal(t, []string{"https://doi.org/2", "https://doi.org/5"}, stub.urls)

	papers, err := corpus.ReadFile(path, "ccs", "2020")
	require.NoError(t, err)
	byTitle := map[string]string{}
	for _, p := range papers {
		byTitle[p.Title] = p.Abstract
	}
	assert.Equal(t, "Fetched abstract.", byTitle["Needs Abstract"])
	assert.Equal(t, "present", byTitle["Has Abstract"])
	assert.Equal(t, "", byTitle["Broken Page"])

	var raw []map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 5)
	assert.Equal(t, "2", raw[1]["@score"])
	info := raw[1]["info"].(map[string]any)
	assert.Equal(t, "1-12", info["pages"])
	assert.Equal(t, "https://example.org/2.pdf", info["pdf_url"])

	// A second run only retries what is still missing.
	stub.urls = nil
	summary, err = e.Run(context.Background(), "ccs", "2020")
	require.NoError(t, err)
	assert.Equal(t, Summary{Failed: 1}, summary)
	assert.Equal(t, []string{"https://doi.org/5"}, stub.urls)
}

func TestRun_AdapterLookupError(t *testing.T) {
	root := t.TempDir()
	writeYear(t, root, "xyz", "2020", sampleYear)

	e := &Enricher{Root: root, Adapters: func(c string) (spider.Adapter, error) {
		return nil, errors.New("unsupported " + c)
	}}
	_, err := e.Run(context.Background(), "", "")
	assert.ErrorContains(t, err, "unsupported xyz")
}

func TestRun_CancelledWritesGathered(t *testing.T) {
	root := t.TempDir()
	path := writeYear(t, root, "ccs", "2020", sampleYear)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := &cancelAfterFirst{cancel: cancel}
	e := &Enricher{Root: root, Adapters: func(string) (spider.Adapter, error) { return stub, nil }}

	summary, err := e.Run(ctx, "", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Updated)

	papers, err := corpus.ReadFile(path, "ccs", "2020")
	require.NoError(t, err)
	for _, p := range papers {
		if p.Title == "Needs Abstract" {
			assert.Equal(t, "first", p.Abstract)
		}
	}
}

type cancelAfterFirst struct {
	cancel func()
	n      int
}

func (c *cancelAfterFirst) PaperInfo(context.Context, string) (spider.PaperInfo, error) {
	c.n++
	if c.n == 1 {
		c.cancel()
		return spider.PaperInfo{Abstract: "first"}, nil
	}
	return spider.PaperInfo{}, context.Canceled
}

func TestSeed(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeYear(t, src, "ccs", "2020", `[{"info": {"title": "fresh"}}]`)
	writeYear(t, src, "ccs", "2021", `[{"info": {"title": "fresh 2021"}}]`)
	writeYear(t, dst, "ccs", "2020", `[{"info": {"title": "kept", "abstract": "enriched"}}]`)

	created, err := Seed(src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dst, "ccs", "2021.json")}, created)

	data, err := os.ReadFile(filepath.Join(dst, "ccs", "2020.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "enriched")
}
