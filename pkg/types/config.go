// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent overrides the rotating browser User-Agent when set.
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty" mapstructure:"user_agent"`
}

// AIConfig holds settings for the relevance classifier's chat completions API.
type AIConfig struct {
	// BaseURL is the OpenAI-compatible API root (e.g. "https://api.openai.com/v1").
	BaseURL string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`

	// Model is the chat model identifier (e.g. "gpt-4o-mini").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the bearer token for the API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// MaxRetries is the total number of attempts per paper (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// RetryDelay is the linear backoff base: attempt n waits n*RetryDelay (default 2s).
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`

	// Temperature is the sampling temperature (default 0.3).
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`

	// RequestsPerSecond caps the request rate across workers. Zero disables the limit.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// SearchConfig holds settings for the semantic search engine.
type SearchConfig struct {
	// CorpusDir is the enriched corpus root (contains <conf>/<year>.json).
	CorpusDir string `json:"corpus_dir" yaml:"corpus_dir" mapstructure:"corpus_dir"`

	// CacheDir holds final caches and checkpoints keyed by query fingerprint.
	CacheDir string `json:"cache_dir" yaml:"cache_dir" mapstructure:"cache_dir"`

	// OutputDir holds per-query result directories.
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`

	// MaxWorkers bounds concurrent classifier calls (default 10).
	MaxWorkers int `json:"max_workers" yaml:"max_workers" mapstructure:"max_workers"`

	// CheckpointInterval is the number of completions between checkpoint writes (default 10).
	CheckpointInterval int `json:"checkpoint_interval" yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`

	// UseCache returns a stored final result without classifying when one exists.
	UseCache bool `json:"use_cache" yaml:"use_cache" mapstructure:"use_cache"`

	// SavePartial enables checkpoint reads and writes (default true).
	SavePartial bool `json:"save_partial" yaml:"save_partial" mapstructure:"save_partial"`

	// Years is the default year-set spec when none is given (e.g. "2015-2024").
	Years string `json:"years" yaml:"years" mapstructure:"years"`
}

// Search defaults.
const (
	DefaultMaxWorkers         = 10
	DefaultCheckpointInterval = 10
	DefaultYears              = "2015-2024"
)

// EnrichConfig holds settings for abstract enrichment.
type EnrichConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// CorpusDir is the corpus root whose files are updated in place.
	CorpusDir string `json:"corpus_dir" yaml:"corpus_dir" mapstructure:"corpus_dir"`

	// Delay is the pause between consecutive paper requests (default 1s).
	Delay time.Duration `json:"delay" yaml:"delay" mapstructure:"delay"`

	// S2APIKey is the optional Semantic Scholar API key. Requests without
	// one share the anonymous rate limit.
	S2APIKey string `json:"s2_api_key,omitempty" yaml:"s2_api_key,omitempty" mapstructure:"s2_api_key"`
}

// LabelConfig holds settings for keyword extraction.
type LabelConfig struct {
	// CorpusDir is the corpus root whose files receive info.keywords.
	CorpusDir string `json:"corpus_dir" yaml:"corpus_dir" mapstructure:"corpus_dir"`

	// CacheDir holds per venue-year checkpoints (default data/cache/keywords).
	CacheDir string `json:"cache_dir" yaml:"cache_dir" mapstructure:"cache_dir"`

	// MaxWorkers bounds concurrent extraction calls (default 10).
	MaxWorkers int `json:"max_workers" yaml:"max_workers" mapstructure:"max_workers"`

	// CheckpointInterval is the number of completions between checkpoint
	// and corpus writes (default 5).
	CheckpointInterval int `json:"checkpoint_interval" yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
}

// FetchConfig holds settings for the bibliography fetch stage.
type FetchConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// OutputDir receives <conf>/<year>.json files (default data/dblp).
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`

	// MaxRetries is the number of attempts per venue-year (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
}

// CatalogConfig holds settings for the SQLite corpus catalog.
type CatalogConfig struct {
	// Path is the SQLite database file (default data/catalog.db).
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// Config groups all settings for the CLI.
type Config struct {
	AI      AIConfig      `json:"ai" yaml:"ai" mapstructure:"ai"`
	Search  SearchConfig  `json:"search" yaml:"search" mapstructure:"search"`
	Enrich  EnrichConfig  `json:"enrich" yaml:"enrich" mapstructure:"enrich"`
	Fetch   FetchConfig   `json:"fetch" yaml:"fetch" mapstructure:"fetch"`
	Label   LabelConfig   `json:"label" yaml:"label" mapstructure:"label"`
	Catalog CatalogConfig `json:"catalog" yaml:"catalog" mapstructure:"catalog"`
}
