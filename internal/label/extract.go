// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package label extracts research keywords for corpus papers with the same
// reasoning service used for relevance judgments, and writes them back into
// the corpus as info.keywords.
package label

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"

	"golang.org/x/time/rate"

	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/retry"
	"github.com/pdiddy/paper-search/pkg/types"
)

// KeywordCount is the number of keywords requested per paper.
const KeywordCount = 5

const systemPrompt = `You extract keywords from academic security papers. Base your answer solely on the paper title and abstract.

Respond with a JSON object of the form {"keywords": ["...", "..."]} and nothing else.`

var userPromptTmpl = template.Must(template.New("keywords").Parse(`Title: {{.Title}}
Abstract: {{.Abstract}}

Based on the paper title and abstract above, extract {{.Count}} keywords. First give keywords for the research domain, avoiding overly broad terms such as "security", "machine learning", "deep learning" or "neural networks". Then give keywords for the research problem. Keep each keyword concise.

Example output for "MACE: Detecting Privilege Escalation Vulnerabilities in Web Applications":
{"keywords": ["Web Application Security", "Access Control", "Privilege Escalation", "Authorization Vulnerabilities", "Horizontal Privilege Escalation (HPE)"]}`))

// Extractor turns a chat Backend into keyword lists. It is safe for
// concurrent use.
type Extractor struct {
	backend classify.Backend
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extractor) { x.logger = l }
}

// WithRateLimit caps outgoing requests at rps across all callers.
func WithRateLimit(rps float64) Option {
	return func(x *Extractor) {
		if rps > 0 {
			x.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New builds an Extractor on the OpenAI-compatible backend described by cfg.
func New(cfg types.AIConfig, client *http.Client, opts ...Option) (*Extractor, error) {
	backend, err := classify.NewOpenAIBackend(cfg, client)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithRateLimit(cfg.RequestsPerSecond)}, opts...)
	return NewWithBackend(backend, classify.RetryPolicy(cfg), opts...), nil
}

// NewWithBackend builds an Extractor around an arbitrary backend. Only
// transient failures are retried.
func NewWithBackend(b classify.Backend, policy retry.Policy, opts ...Option) *Extractor {
	x := &Extractor{backend: b, policy: policy, logger: slog.Default()}
	for _, o := range opts {
		o(x)
	}
	x.policy.Retryable = classify.IsTransient
	return x
}

// Keywords returns up to KeywordCount keywords for paper.
func (x *Extractor) Keywords(ctx context.Context, paper types.PaperRecord) ([]string, error) {
	messages, err := buildMessages(paper)
	if err != nil {
		return nil, err
	}

	var keywords []string
	attempt := 0
	err = x.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if x.limiter != nil {
			if err := x.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		reply, err := x.backend.Complete(ctx, messages)
		if err != nil {
			if classify.IsTransient(err) && attempt < x.policy.MaxAttempts {
				x.logger.Debug("retrying keyword extraction", "title", paper.Title, "attempt", attempt,
					"rate_limited", classify.IsRateLimited(err), "error", err)
			}
			return err
		}
		keywords, err = parseKeywords(reply)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("extracting keywords for %q: %w", paper.Title, err)
	}
	return keywords, nil
}

func buildMessages(paper types.PaperRecord) ([]classify.Message, error) {
	abstract := strings.TrimSpace(paper.Abstract)
	if abstract == "" {
		abstract = "N/A"
	}
	var buf bytes.Buffer
	err := userPromptTmpl.Execute(&buf, struct {
		Title, Abstract string
		Count           int
	}{paper.Title, abstract, KeywordCount})
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}
	return []classify.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buf.String()},
	}, nil
}

// parseKeywords reads {"keywords": [...]} or a bare JSON array from a
// reply, tolerating code fences. Keywords are trimmed, deduplicated
// case-insensitively, and capped at KeywordCount.
func parseKeywords(reply string) ([]string, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw []string
	var obj struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		raw = obj.Keywords
	} else if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %q", classify.ErrMalformedReply, truncate(reply, 120))
	}

	seen := make(map[string]bool, len(raw))
	var out []string
	for _, k := range raw {
		k = strings.TrimSpace(k)
		lk := strings.ToLower(k)
		if k == "" || seen[lk] {
			continue
		}
		seen[lk] = true
		out = append(out, k)
		if len(out) == KeywordCount {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no keywords in %q", classify.ErrMalformedReply, truncate(reply, 120))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
