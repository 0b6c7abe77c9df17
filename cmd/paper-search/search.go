// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-search/internal/catalog"
	"github.com/pdiddy/paper-search/internal/classify"
	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/engine"
	"github.com/pdiddy/paper-search/internal/layout"
	"github.com/pdiddy/paper-search/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find corpus papers relevant to a free-text query",
	Long: `Search asks the configured language model whether each paper in scope
matches the query. One year is searched at a time; within a year up to
--max-workers papers are judged concurrently.

Results go to <output-dir>/<fingerprint>/results/ as one <conf>_<year>.jsonl
file per year plus all_results.jsonl. Interrupting with Ctrl-C saves a
checkpoint; rerunning the same command resumes from it. A finished search
is cached, so repeating it makes no model calls unless --no-cache is set.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().String("query", "", "free-text description of the papers wanted")
	searchCmd.Flags().String("conference", "", "restrict to one conference: ccs, ndss, sp, uss (default all)")
	searchCmd.Flags().String("years", "", `years to search, e.g. "2020", "2019-2021", "2015,2018-2019" (default search.years)`)
	searchCmd.Flags().Int("max-workers", 0, "concurrent classifier calls (default 10)")
	searchCmd.Flags().Int("checkpoint-every", 0, "completions between checkpoint writes (default 10)")
	searchCmd.Flags().Bool("no-cache", false, "ignore a cached final result and classify again")
	searchCmd.Flags().Bool("save-partial", true, "write and resume from checkpoints")
	searchCmd.Flags().Bool("json", false, "print relevant papers as JSON")
	searchCmd.Flags().String("cache-dir", "", "cache and checkpoint directory (default data/cache)")
	searchCmd.Flags().String("output-dir", "", "results root (default data/outputs)")

	bindFlag("search.years", searchCmd.Flags().Lookup("years"))
	bindFlag("search.max_workers", searchCmd.Flags().Lookup("max-workers"))
	bindFlag("search.checkpoint_interval", searchCmd.Flags().Lookup("checkpoint-every"))
	bindFlag("search.save_partial", searchCmd.Flags().Lookup("save-partial"))
	bindFlag("cache_dir", searchCmd.Flags().Lookup("cache-dir"))
	bindFlag("output_dir", searchCmd.Flags().Lookup("output-dir"))

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query, _ := cmd.Flags().GetString("query")
	if query == "" && len(args) > 0 {
		query = strings.Join(args, " ")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("provide a query with --query or as arguments")
	}

	confFlag, _ := cmd.Flags().GetString("conference")
	conf, err := types.ParseConference(confFlag)
	if err != nil {
		return err
	}
	noCache, _ := cmd.Flags().GetBool("no-cache")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := loadConfig()
	cfg.Search.UseCache = cfg.Search.UseCache && !noCache

	judge, err := classify.New(cfg.AI, &http.Client{Timeout: 2 * defaultTimeout}, classify.WithLogger(logger))
	if err != nil {
		if errors.Is(err, classify.ErrMissingAPIKey) {
			return fmt.Errorf("%w: set OPENAI_API_KEY, PAPER_SEARCH_AI_API_KEY, or .secrets/openai-api-key", err)
		}
		return err
	}

	c, err := corpus.Load(cfg.Search.CorpusDir, logger)
	if err != nil {
		return err
	}
	logger.Info("corpus loaded", "papers", c.Len(), "root", cfg.Search.CorpusDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := os.Stderr
	eng := engine.New(judge, c, cfg.Search, logger, progress)
	report, runErr := eng.Run(ctx, engine.RunOptions{
		Query:      query,
		Conference: string(conf),
		Years:      cfg.Search.Years,
	})

	summary := report.Summary()
	if runErr == nil {
		recordHistory(cfg.Catalog.Path, catalog.SearchRecord{
			Fingerprint: layout.Fingerprint(query, "", ""),
			Query:       query,
			Conference:  string(conf),
			Years:       cfg.Search.Years,
			Total:       summary.Total,
			Classified:  summary.Classified,
			Relevant:    summary.Relevant,
			Failed:      summary.Failed,
			ResultsDir:  report.ResultsDir,
		})
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\ninterrupted: progress saved, rerun the same command to resume")
		}
		return runErr
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report.Results)
	}

	for _, p := range report.Results {
		fmt.Fprintf(os.Stdout, "[%s %s] %s\n", p.Conference, p.Year, p.Title)
		if p.URL != "" {
			fmt.Fprintf(os.Stdout, "    %s\n", p.URL)
		}
	}
	fmt.Fprintf(os.Stdout, "\nrelevant: %d, classified: %d, resumed: %d, failed: %d\n",
		summary.Relevant, summary.Classified, summary.Resumed, summary.Failed)
	fmt.Fprintf(os.Stdout, "results: %s\n", report.ConcatPath)
	if summary.HasFailures() {
		fmt.Fprintf(os.Stderr, "warning: %d paper(s) could not be classified and were treated as not relevant\n", summary.Failed)
	}
	return nil
}

// recordHistory logs a finished search in the catalog. The search itself
// already succeeded, so failures here are only warnings.
func recordHistory(path string, rec catalog.SearchRecord) {
	store, err := catalog.Open(path)
	if err != nil {
		logger.Warn("could not open catalog for history", "error", err)
		return
	}
	defer store.Close()
	if err := store.RecordSearch(context.Background(), rec); err != nil {
		logger.Warn("could not record search", "error", err)
	}
}
