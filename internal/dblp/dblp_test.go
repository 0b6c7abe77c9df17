// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package dblp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/httputil"
)

func init() {
	retryDelay = time.Millisecond
	httputil.RetryBaseDelay = time.Millisecond
}

const tocBody = `{"result": {"hits": {"@total": "2", "hit": [
  {"@score": "1", "@id": "100", "info": {"type": "Conference and Workshop Papers", "title": "Alpha.", "ee": "https://doi.org/a", "key": "conf/ccs/Alpha20", "year": "2020"}},
  {"@score": "1", "@id": "101", "info": {"type": "Editorship", "title": "Proceedings of CCS 2020", "key": "conf/ccs/2020"}}
]}}}`

// tocServer routes /<conf>/<year> to handler and points tocURL at it.
func tocServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	old := tocURL
	tocURL = ts.URL + "/%[1]s/%[2]d"
	t.Cleanup(func() { tocURL = old })
}

func TestTOC_ReturnsRawHits(t *testing.T) {
	var path string
	tocServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, tocBody)
	})

	f := &Fetcher{}
	hits, err := f.TOC(context.Background(), "ccs", 2020)
	require.NoError(t, err)
	assert.Equal(t, "/ccs/2020", path)
	require.Len(t, hits, 2)
	assert.Contains(t, string(hits[0]), `"@id": "100"`)
}

func TestTOC_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	tocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			fmt.Fprint(w, `{"result": `)
		default:
			fmt.Fprint(w, tocBody)
		}
	})

	hits, err := (&Fetcher{MaxRetries: 3}).TOC(context.Background(), "sp", 2021)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestTOC_FinalErrors(t *testing.T) {
	t.Run("not found is not retried", func(t *testing.T) {
		var calls int32
		tocServer(t, func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := (&Fetcher{}).TOC(context.Background(), "uss", 2015)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("empty hits", func(t *testing.T) {
		tocServer(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"result": {"hits": {"@total": "0"}}}`)
		})
		_, err := (&Fetcher{}).TOC(context.Background(), "ndss", 2030)
		assert.ErrorIs(t, err, ErrNoPapers)
	})

	t.Run("server errors exhaust", func(t *testing.T) {
		var calls int32
		tocServer(t, func(w http.ResponseWriter, _ *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := (&Fetcher{MaxRetries: 2}).TOC(context.Background(), "ndss", 2020)
		assert.Error(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}

func TestRun_SavesReadableCorpusFiles(t *testing.T) {
	tocServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ccs/2021" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, tocBody)
	})

	dir := t.TempDir()
	var out bytes.Buffer
	f := &Fetcher{OutputDir: dir, Out: &out}

	summary, err := f.Run(context.Background(), []string{"ccs"}, []int{2020, 2021})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, []string{"ccs 2021"}, summary.Failed)
	assert.True(t, summary.HasFailures())
	assert.Equal(t, 2, summary.Total())
	assert.Contains(t, out.String(), "saved ccs 2020: 2 papers")

	path := filepath.Join(dir, "ccs", "2020.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "100", raw[0]["@id"])

	papers, err := corpus.ReadFile(path, "ccs", "2020")
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "Alpha.", papers[0].Title)
	assert.Equal(t, "conf/ccs/Alpha20", papers[0].DBLPKey)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tocServer(t, func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		fmt.Fprint(w, tocBody)
	})

	f := &Fetcher{OutputDir: t.TempDir(), Pause: time.Hour}
	summary, err := f.Run(ctx, []string{"ccs", "sp"}, []int{2020})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, summary.Saved, 1)
	assert.Empty(t, summary.Failed)
}

func TestPath_Default(t *testing.T) {
	assert.Equal(t, filepath.Join(DefaultOutputDir, "uss", "2019.json"), (&Fetcher{}).Path("uss", 2019))
}
