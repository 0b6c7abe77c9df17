// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package s2 lists a venue-year's papers from the Semantic Scholar bulk
// search API. Papers carry their DBLP key in externalIds, which is how
// enrichment matches them to bibliography entries.
package s2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pdiddy/paper-search/internal/httputil"
	"github.com/pdiddy/paper-search/internal/retry"
	"github.com/pdiddy/paper-search/pkg/types"
)

// apiBase is the Semantic Scholar bulk paper search endpoint. Declared as a
// var so tests can substitute an httptest server.
var apiBase = "https://api.semanticscholar.org/graph/v1/paper/search/bulk"

// retryDelay is the fixed wait between failed page requests.
var retryDelay = 10 * time.Second

const (
	fields = "paperId,title,abstract,externalIds"
	// query matches every paper; the venue and year filters do the selecting.
	query = "*"

	// DefaultMaxRetries is the number of attempts per page.
	DefaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
	// maxPages bounds pagination when the API keeps returning tokens.
	maxPages = 100
)

// venues maps conference codes to the venue names Semantic Scholar indexes.
var venues = map[string]string{
	"ccs":  "Conference on Computer and Communications Security",
	"ndss": "Network and Distributed System Security Symposium",
	"sp":   "IEEE Symposium on Security and Privacy",
	"uss":  "USENIX Security Symposium",
}

// Venue returns the Semantic Scholar venue name for a conference code.
func Venue(conference string) (string, error) {
	v, ok := venues[conference]
	if !ok {
		return "", fmt.Errorf("no Semantic Scholar venue for conference %q", conference)
	}
	return v, nil
}

// Paper is one Semantic Scholar search result.
type Paper struct {
	PaperID     string      `json:"paperId"`
	Title       string      `json:"title"`
	Abstract    string      `json:"abstract"`
	ExternalIDs ExternalIDs `json:"externalIds"`
}

// ExternalIDs holds the identifiers used for matching.
type ExternalIDs struct {
	DBLP string `json:"DBLP"`
	DOI  string `json:"DOI"`
}

type bulkResponse struct {
	Total int     `json:"total"`
	Token string  `json:"token"`
	Data  []Paper `json:"data"`
}

// StatusError reports a non-200 API response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Semantic Scholar API returned HTTP %d", e.StatusCode)
}

// Client queries the Semantic Scholar API.
type Client struct {
	HTTP       *http.Client
	APIKey     string
	UserAgent  string
	MaxRetries int
	Logger     *slog.Logger
}

// NewClient builds a Client from enrichment settings.
func NewClient(cfg types.EnrichConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout},
		APIKey:    cfg.S2APIKey,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	}
}

// Papers returns every paper Semantic Scholar lists for conference in
// year, following continuation tokens. Each page is retried on transport
// failures and 5xx responses; HTTP 429 is handled by the shared
// rate-limit retry.
func (c *Client) Papers(ctx context.Context, conference string, year int) ([]Paper, error) {
	venue, err := Venue(conference)
	if err != nil {
		return nil, err
	}

	attempts := c.MaxRetries
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

	var papers []Paper
	token := ""
	for page := 0; page < maxPages; page++ {
		var resp bulkResponse
		err := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.page(ctx, venue, year, token)
			if err != nil {
				c.logger().Warn("Semantic Scholar request failed", "conference", conference, "year", year, "page", page, "error", err)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		papers = append(papers, resp.Data...)
		if resp.Token == "" {
			return papers, nil
		}
		token = resp.Token
	}
	c.logger().Warn("stopping pagination", "conference", conference, "year", year, "pages", maxPages)
	return papers, nil
}

func (c *Client) page(ctx context.Context, venue string, year int, token string) (bulkResponse, error) {
	params := url.Values{
		"query":  {query},
		"venue":  {venue},
		"year":   {strconv.Itoa(year)},
		"fields": {fields},
	}
	if token != "" {
		params.Set("token", token)
	}

	var br bulkResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+"?"+params.Encode(), nil)
	if err != nil {
		return br, fmt.Errorf("creating request: %w", err)
	}
	ua := c.UserAgent
	if ua == "" {
		ua = httputil.RandomUserAgent()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-api-key", c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return br, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return br, &StatusError{StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return br, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}
	return br, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ByDBLPKey indexes papers by their DBLP key. Papers without one cannot be
// matched and are dropped; on duplicate keys the last paper wins.
func ByDBLPKey(papers []Paper) map[string]Paper {
	out := make(map[string]Paper, len(papers))
	for _, p := range papers {
		if p.ExternalIDs.DBLP == "" {
			continue
		}
		out[p.ExternalIDs.DBLP] = p
	}
	return out
}
