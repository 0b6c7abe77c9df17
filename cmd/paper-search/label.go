// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/label"
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Extract keywords for corpus papers",
	Long: `Label asks the configured language model for five keywords per paper,
research domain first and research problem second, and writes them into the
corpus as info.keywords. Papers that already have keywords are skipped.

Progress is checkpointed per venue-year under --cache-dir; interrupting
with Ctrl-C writes what was gathered and rerunning resumes. Do not run
label while a search is in progress. Run "corpus index" afterwards so
"corpus browse --keyword" sees the new keywords.`,
	RunE: runLabel,
}

func init() {
	labelCmd.Flags().String("conference", "", "restrict to one conference (default all)")
	labelCmd.Flags().String("year", "", "restrict to one year")
	labelCmd.Flags().Int("max-workers", 0, "concurrent extraction calls (default 10)")
	labelCmd.Flags().Int("checkpoint-every", 0, "completions between checkpoint writes (default 5)")
	labelCmd.Flags().String("cache-dir", "", "checkpoint directory (default data/cache/keywords)")
	labelCmd.Flags().Bool("yaml", false, "print the summary as YAML")

	bindFlag("label.max_workers", labelCmd.Flags().Lookup("max-workers"))
	bindFlag("label.checkpoint_interval", labelCmd.Flags().Lookup("checkpoint-every"))
	bindFlag("label.cache_dir", labelCmd.Flags().Lookup("cache-dir"))

	rootCmd.AddCommand(labelCmd)
}

func runLabel(cmd *cobra.Command, args []string) error {
	conf, err := conferenceFlag(cmd)
	if err != nil {
		return err
	}
	year, _ := cmd.Flags().GetString("year")
	yamlOutput, _ := cmd.Flags().GetBool("yaml")

	cfg := loadConfig()
	x, err := label.New(cfg.AI, &http.Client{Timeout: 2 * defaultTimeout}, label.WithLogger(logger))
	if err != nil {
		if errors.Is(err, classify.ErrMissingAPIKey) {
			return fmt.Errorf("%w: set OPENAI_API_KEY, PAPER_SEARCH_AI_API_KEY, or .secrets/openai-api-key", err)
		}
		return err
	}
	l := label.NewLabeler(x, cfg.Label, logger, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := l.Run(ctx, conf, year)
	if yamlOutput {
		if encErr := yaml.NewEncoder(os.Stdout).Encode(summary); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(os.Stdout, "\nlabeled: %d, resumed: %d, already labeled: %d, failed: %d\n",
			summary.Labeled, summary.Resumed, summary.Existing, summary.Failed)
	}
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d paper(s) could not be labeled", summary.Failed)
	}
	return nil
}
