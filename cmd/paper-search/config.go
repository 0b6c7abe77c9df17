// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-search/internal/catalog"
	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/dblp"
	"github.com/pdiddy/paper-search/internal/label"
	"github.com/pdiddy/paper-search/internal/secrets"
	"github.com/pdiddy/paper-search/pkg/types"
)

const (
	defaultCorpusDir  = "data/enriched"
	defaultCacheDir   = "data/cache"
	defaultOutputDir  = "data/outputs"
	defaultTimeout    = 30 * time.Second
	defaultEnrichWait = 1 * time.Second
)

func setDefaults() {
	viper.SetDefault("corpus_dir", defaultCorpusDir)
	viper.SetDefault("cache_dir", defaultCacheDir)
	viper.SetDefault("output_dir", defaultOutputDir)
	viper.SetDefault("catalog_path", catalog.DefaultPath)

	viper.SetDefault("ai.model", classify.DefaultModel)
	viper.SetDefault("ai.max_retries", classify.DefaultMaxAttempts)
	viper.SetDefault("ai.retry_delay", 2*time.Second)
	viper.SetDefault("ai.temperature", classify.DefaultTemperature)

	viper.SetDefault("search.max_workers", types.DefaultMaxWorkers)
	viper.SetDefault("search.checkpoint_interval", types.DefaultCheckpointInterval)
	viper.SetDefault("search.years", types.DefaultYears)
	viper.SetDefault("search.use_cache", true)
	viper.SetDefault("search.save_partial", true)

	viper.SetDefault("http.timeout", defaultTimeout)
	viper.SetDefault("enrich.delay", defaultEnrichWait)
	viper.SetDefault("fetch.output_dir", dblp.DefaultOutputDir)
	viper.SetDefault("fetch.max_retries", dblp.DefaultMaxRetries)
	viper.SetDefault("label.cache_dir", label.DefaultCacheDir)
	viper.SetDefault("label.max_workers", types.DefaultMaxWorkers)
	viper.SetDefault("label.checkpoint_interval", label.DefaultCheckpointInterval)
}

// bindFlag binds a flag to a config key. Flags are registered in init, so
// a failure here is a programming error.
func bindFlag(key string, f *pflag.Flag) {
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag for %s: %v", key, err))
	}
}

// loadConfig assembles the effective configuration from defaults, the
// config file, PAPER_SEARCH_* variables, bound flags and secrets.
func loadConfig() types.Config {
	httpCfg := types.HTTPConfig{
		Timeout:   viper.GetDuration("http.timeout"),
		UserAgent: viper.GetString("http.user_agent"),
	}

	apiKey := viper.GetString("ai.api_key")
	if apiKey == "" {
		apiKey = secrets.OpenAIKey(loadedSecrets)
	}
	s2Key := viper.GetString("enrich.s2_api_key")
	if s2Key == "" {
		s2Key = secrets.SemanticScholarKey(loadedSecrets)
	}

	corpusDir := viper.GetString("corpus_dir")
	return types.Config{
		AI: types.AIConfig{
			BaseURL:           viper.GetString("ai.base_url"),
			Model:             viper.GetString("ai.model"),
			APIKey:            apiKey,
			MaxRetries:        viper.GetInt("ai.max_retries"),
			RetryDelay:        viper.GetDuration("ai.retry_delay"),
			Temperature:       viper.GetFloat64("ai.temperature"),
			RequestsPerSecond: viper.GetFloat64("ai.requests_per_second"),
		},
		Search: types.SearchConfig{
			CorpusDir:          corpusDir,
			CacheDir:           viper.GetString("cache_dir"),
			OutputDir:          viper.GetString("output_dir"),
			MaxWorkers:         viper.GetInt("search.max_workers"),
			CheckpointInterval: viper.GetInt("search.checkpoint_interval"),
			UseCache:           viper.GetBool("search.use_cache"),
			SavePartial:        viper.GetBool("search.save_partial"),
			Years:              viper.GetString("search.years"),
		},
		Enrich: types.EnrichConfig{
			HTTPConfig: httpCfg,
			CorpusDir:  corpusDir,
			Delay:      viper.GetDuration("enrich.delay"),
			S2APIKey:   s2Key,
		},
		Fetch: types.FetchConfig{
			HTTPConfig: httpCfg,
			OutputDir:  viper.GetString("fetch.output_dir"),
			MaxRetries: viper.GetInt("fetch.max_retries"),
		},
		Label: types.LabelConfig{
			CorpusDir:          corpusDir,
			CacheDir:           viper.GetString("label.cache_dir"),
			MaxWorkers:         viper.GetInt("label.max_workers"),
			CheckpointInterval: viper.GetInt("label.checkpoint_interval"),
		},
		Catalog: types.CatalogConfig{
			Path: viper.GetString("catalog_path"),
		},
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Config prints the configuration paper-search would run with after
merging defaults, the config file, PAPER_SEARCH_* environment variables
and flags. API keys are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		cfg.AI.APIKey = maskKey(cfg.AI.APIKey)
		cfg.Enrich.S2APIKey = maskKey(cfg.Enrich.S2APIKey)

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func maskKey(k string) string {
	if len(k) <= 8 {
		if k == "" {
			return ""
		}
		return "****"
	}
	return k[:4] + "****" + k[len(k)-4:]
}

func init() {
	rootCmd.AddCommand(configCmd)
}
