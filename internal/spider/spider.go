// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package spider extracts abstracts and PDF links from conference paper
// pages. Each venue has its own page layout and therefore its own Adapter;
// For returns the adapter registered for a conference code.
package spider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/pdiddy/paper-search/internal/httputil"
	"github.com/pdiddy/paper-search/internal/retry"
	"github.com/pdiddy/paper-search/pkg/types"
)

// PaperInfo is what an adapter extracts from a paper page.
type PaperInfo struct {
	Abstract string `json:"abstract"`
	// PDFURL is empty when the page does not link a PDF.
	PDFURL string `json:"pdf_url"`
}

// Adapter fetches one paper page and extracts its PaperInfo.
type Adapter interface {
	PaperInfo(ctx context.Context, pageURL string) (PaperInfo, error)
}

// ErrNoAbstract means the page was fetched but did not contain the
// expected abstract markup.
var ErrNoAbstract = errors.New("no abstract found on page")

// StatusError is a non-2xx page response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.StatusCode)
}

// backoffBase is the first wait between page fetch attempts. Tests override it.
var backoffBase = 2 * time.Second

const (
	maxAttempts = 3
	maxPageSize = 8 << 20
)

// Options configures the shared page fetcher.
type Options struct {
	Client *http.Client
	// UserAgent pins the User-Agent header; empty rotates browser strings.
	UserAgent string
	// Interval is the minimum spacing between requests; zero disables pacing.
	Interval time.Duration
}

type fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	policy    retry.Policy
}

func newFetcher(opts Options) *fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	f := &fetcher{
		client:    client,
		userAgent: opts.UserAgent,
		policy:    retry.Exponential(maxAttempts, backoffBase),
	}
	f.policy.Retryable = retryablePageError
	if opts.Interval > 0 {
		f.limiter = rate.NewLimiter(rate.Every(opts.Interval), 1)
	}
	return f
}

// retryablePageError retries transport failures and 5xx/429 responses.
// Missing markup and other client errors are final.
func retryablePageError(err error) bool {
	if errors.Is(err, ErrNoAbstract) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// page is a fetched HTML document and the URL it was served from after redirects.
type page struct {
	url  *url.URL
	body []byte
	doc  *goquery.Document
}

// get fetches pageURL with browser headers, pacing, and retries.
func (f *fetcher) get(ctx context.Context, pageURL string) (*page, error) {
	var p *page
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		httputil.SetBrowserHeaders(req, f.userAgent)

		resp, err := httputil.DoWithRetry(ctx, f.client, req, 2)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", pageURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
		if err != nil {
			return fmt.Errorf("reading %s: %w", pageURL, err)
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", pageURL, err)
		}
		p = &page{url: resp.Request.URL, body: body, doc: doc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// resolve makes href absolute against the page URL.
func (p *page) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.url.ResolveReference(ref).String()
}

var spaceRun = regexp.MustCompile(`\s+`)

// cleanText collapses whitespace runs to single spaces.
func cleanText(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// For returns the adapter registered for conf.
func For(conf string, opts Options) (Adapter, error) {
	c, err := types.ParseConference(conf)
	if err != nil {
		return nil, err
	}
	f := newFetcher(opts)
	switch c {
	case types.ConferenceCCS:
		return &ccsAdapter{f: f}, nil
	case types.ConferenceNDSS:
		return &ndssAdapter{f: f}, nil
	case types.ConferenceSP:
		return &spAdapter{f: f}, nil
	case types.ConferenceUSS:
		return &ussAdapter{f: f}, nil
	}
	return nil, fmt.Errorf("no adapter for conference %q", conf)
}
