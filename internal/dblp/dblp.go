// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dblp downloads per-venue, per-year tables of contents from the
// DBLP publication search API. Each hit is stored exactly as the API
// returned it so downstream enrichment can add fields without loss.
package dblp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pdiddy/paper-search/internal/fsutil"
	"github.com/pdiddy/paper-search/internal/httputil"
	"github.com/pdiddy/paper-search/internal/retry"
	"github.com/pdiddy/paper-search/pkg/types"
)

// tocURL is the publication search endpoint. The first verb is the DBLP
// venue key, the second the year. Declared as a var so tests can point it
// at an httptest server.
var tocURL = "https://dblp.org/search/publ/api?q=toc:db/conf/%[1]s/%[1]s%[2]d.bht:&h=1000&format=json"

// retryDelay is the fixed wait between failed attempts.
var retryDelay = 10 * time.Second

// Defaults for Fetcher fields left zero.
const (
	DefaultOutputDir  = "data/dblp"
	DefaultMaxRetries = 5
	DefaultPause      = 5 * time.Second
	defaultTimeout    = 30 * time.Second
)

// ErrNoPapers is returned when the API answers but lists no hits.
var ErrNoPapers = errors.New("no papers found")

// StatusError reports a non-200 API response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("DBLP API returned HTTP %d", e.StatusCode)
}

type searchResponse struct {
	Result struct {
		Hits struct {
			Total string            `json:"@total"`
			Hit   []json.RawMessage `json:"hit"`
		} `json:"hits"`
	} `json:"result"`
}

// Fetcher downloads tables of contents into OutputDir/<conf>/<year>.json.
type Fetcher struct {
	Client     *http.Client
	UserAgent  string
	OutputDir  string
	MaxRetries int
	// Pause is the wait after each saved venue-year.
	Pause  time.Duration
	Logger *slog.Logger
	Out    io.Writer
}

// NewFetcher builds a Fetcher from configuration.
func NewFetcher(cfg types.FetchConfig, logger *slog.Logger, out io.Writer) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		Client:     &http.Client{Timeout: timeout},
		UserAgent:  cfg.UserAgent,
		OutputDir:  cfg.OutputDir,
		MaxRetries: cfg.MaxRetries,
		Pause:      DefaultPause,
		Logger:     logger,
		Out:        out,
	}
}

// Summary holds counts from a fetch run.
type Summary struct {
	Saved  int      `yaml:"saved"`
	Failed []string `yaml:"failed,omitempty"`
}

// Total returns the number of venue-years attempted.
func (s Summary) Total() int { return s.Saved + len(s.Failed) }

// HasFailures reports whether any venue-year could not be saved.
func (s Summary) HasFailures() bool { return len(s.Failed) > 0 }

// TOC returns the raw hits for one venue-year. Transport errors, 5xx
// responses and undecodable bodies are retried; HTTP 429 is handled by
// the shared rate-limit retry.
func (f *Fetcher) TOC(ctx context.Context, conference string, year int) ([]json.RawMessage, error) {
	attempts := f.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}
	policy := retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   retryDelay,
		Retryable:   retryable,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			return retry.Sleep(ctx, retryDelay)
		},
	}

	var hits []json.RawMessage
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		hits, err = f.get(ctx, conference, year)
		if err != nil {
			f.logger().Warn("DBLP request failed", "conference", conference, "year", year, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (f *Fetcher) get(ctx context.Context, conference string, year int) ([]json.RawMessage, error) {
	u := fmt.Sprintf(tocURL, url.PathEscape(conference), year)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating DBLP request: %w", err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = httputil.RandomUserAgent()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, 2)
	if err != nil {
		return nil, fmt.Errorf("DBLP API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing DBLP response: %w", err)
	}
	if len(sr.Result.Hits.Hit) == 0 {
		return nil, ErrNoPapers
	}
	return sr.Result.Hits.Hit, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrNoPapers) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Path returns where the table of contents for conference and year is stored.
func (f *Fetcher) Path(conference string, year int) string {
	dir := f.OutputDir
	if dir == "" {
		dir = DefaultOutputDir
	}
	return filepath.Join(dir, conference, strconv.Itoa(year)+".json")
}

// Save atomically writes hits as an indented JSON array.
func (f *Fetcher) Save(conference string, year int, hits []json.RawMessage) (string, error) {
	data, err := json.MarshalIndent(hits, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshaling %s %d: %w", conference, year, err)
	}
	path := f.Path(conference, year)
	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Run fetches and saves every conference-year pair. A pair that fails is
// recorded in the summary and the run continues; only cancellation stops
// it early.
func (f *Fetcher) Run(ctx context.Context, conferences []string, years []int) (Summary, error) {
	out := f.Out
	if out == nil {
		out = io.Discard
	}

	var summary Summary
	for _, conf := range conferences {
		for _, year := range years {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			label := fmt.Sprintf("%s %d", conf, year)

			hits, err := f.TOC(ctx, conf, year)
			if err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				summary.Failed = append(summary.Failed, label)
				fmt.Fprintf(out, "failed %s: %v\n", label, err)
				continue
			}

			path, err := f.Save(conf, year, hits)
			if err != nil {
				summary.Failed = append(summary.Failed, label)
				fmt.Fprintf(out, "failed %s: %v\n", label, err)
				continue
			}
			summary.Saved++
			fmt.Fprintf(out, "saved %s: %d papers -> %s\n", label, len(hits), path)

			if f.Pause > 0 {
				if err := retry.Sleep(ctx, f.Pause); err != nil {
					return summary, err
				}
			}
		}
	}
	return summary, nil
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
