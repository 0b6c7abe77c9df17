// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package classify judges whether a paper is relevant to a free-text query
// by asking an OpenAI-compatible reasoning service.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/paper-search/internal/retry"
	"github.com/pdiddy/paper-search/pkg/types"
)

// Defaults applied by New for zero config values.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxAttempts = 3
	DefaultTemperature = 0.3
)

// retryDelay is the linear backoff base. Tests override it to avoid real sleeps.
var retryDelay = 2 * time.Second

// Backend sends a chat conversation and returns the reply text.
type Backend interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Classifier adapts a Backend into boolean relevance judgments with
// retries. It is safe for concurrent use.
type Classifier struct {
	backend Backend
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithPolicy replaces the retry policy. The Retryable predicate is always
// IsTransient.
func WithPolicy(p retry.Policy) Option {
	return func(c *Classifier) { c.policy = p }
}

// WithRateLimit caps outgoing requests at rps across all callers.
func WithRateLimit(rps float64) Option {
	return func(c *Classifier) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New builds a Classifier on the OpenAI-compatible backend described by
// cfg. It fails with ErrMissingAPIKey when no key is configured.
func New(cfg types.AIConfig, client *http.Client, opts ...Option) (*Classifier, error) {
	backend, err := NewOpenAIBackend(cfg, client)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithRateLimit(cfg.RequestsPerSecond)}, opts...)
	return NewWithBackend(backend, RetryPolicy(cfg), opts...), nil
}

// NewOpenAIBackend builds the chat backend described by cfg, filling in
// defaults for the model and temperature.
func NewOpenAIBackend(cfg types.AIConfig, client *http.Client) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}
	return &OpenAIBackend{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       model,
		Temperature: temp,
		Client:      client,
	}, nil
}

// RetryPolicy returns the linear backoff policy described by cfg. Its
// Retryable predicate is IsTransient.
func RetryPolicy(cfg types.AIConfig) retry.Policy {
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = retryDelay
	}
	p := retry.Linear(attempts, delay)
	p.Retryable = IsTransient
	return p
}

// NewWithBackend builds a Classifier around an arbitrary backend.
func NewWithBackend(b Backend, policy retry.Policy, opts ...Option) *Classifier {
	c := &Classifier{backend: b, policy: policy, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	c.policy.Retryable = IsTransient
	return c
}

// Classify reports whether paper is relevant to query. Transient failures
// are retried with linear backoff; exhaustion returns an error wrapping the
// last failure. Auth errors and malformed replies are returned at once.
func (c *Classifier) Classify(ctx context.Context, query string, paper types.PaperRecord) (bool, error) {
	messages, err := buildMessages(query, paper)
	if err != nil {
		return false, err
	}

	var relevant bool
	attempt := 0
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		reply, err := c.backend.Complete(ctx, messages)
		if err != nil {
			if IsTransient(err) && attempt < c.policy.MaxAttempts {
				c.logger.Debug("retrying relevance check", "title", paper.Title, "attempt", attempt,
					"rate_limited", IsRateLimited(err), "error", err)
			}
			return err
		}
		relevant, err = parseRelevance(reply)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("classifying %q: %w", paper.Title, err)
	}
	return relevant, nil
}
