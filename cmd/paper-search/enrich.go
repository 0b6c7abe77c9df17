// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-search/internal/enrich"
	"github.com/pdiddy/paper-search/internal/s2"
	"github.com/pdiddy/paper-search/internal/spider"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fill missing abstracts by scraping venue pages",
	Long: `Enrich finds corpus papers that have a link but no abstract, fetches
each paper's page on the venue site (ACM DL, NDSS, IEEE Xplore, USENIX) and
writes the abstract and PDF link back into the corpus file. Other fields
are preserved. Do not run enrich while a search is in progress.

With --seed-from, bibliography files missing from the corpus are first
copied in from the fetch output directory. With --from-s2, abstracts are
then merged from Semantic Scholar by DBLP key before any page is scraped;
set SEMANTIC_SCHOLAR_API_KEY or .secrets/semantic-scholar-api-key for a
higher rate limit.`,
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().String("conference", "", "restrict to one conference (default all)")
	enrichCmd.Flags().String("year", "", "restrict to one year")
	enrichCmd.Flags().Duration("delay", 0, "pause between paper requests (default 1s)")
	enrichCmd.Flags().String("seed-from", "", "copy new <conf>/<year>.json files from this directory first")
	enrichCmd.Flags().Bool("from-s2", false, "merge Semantic Scholar abstracts before scraping")
	enrichCmd.Flags().Bool("skip-spider", false, "stop after seeding and merging")
	enrichCmd.Flags().Bool("yaml", false, "print the summary as YAML")

	bindFlag("enrich.delay", enrichCmd.Flags().Lookup("delay"))

	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	conf, err := conferenceFlag(cmd)
	if err != nil {
		return err
	}
	year, _ := cmd.Flags().GetString("year")
	seedFrom, _ := cmd.Flags().GetString("seed-from")
	fromS2, _ := cmd.Flags().GetBool("from-s2")
	skipSpider, _ := cmd.Flags().GetBool("skip-spider")
	yamlOutput, _ := cmd.Flags().GetBool("yaml")

	cfg := loadConfig().Enrich

	if seedFrom != "" {
		created, err := enrich.Seed(seedFrom, cfg.CorpusDir)
		if err != nil {
			return err
		}
		for _, p := range created {
			fmt.Fprintf(os.Stdout, "seeded  %s\n", p)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if fromS2 {
		m := &enrich.Merger{
			Root:   cfg.CorpusDir,
			Source: s2.NewClient(cfg, logger),
			Logger: logger,
			Out:    os.Stdout,
		}
		merged, err := m.Run(ctx, conf, year)
		fmt.Fprintf(os.Stdout, "\nmerged: %d, still missing: %d, failed: %d\n\n", merged.Merged, merged.Unmatched, len(merged.Failed))
		if err != nil {
			return err
		}
		if merged.HasFailures() {
			logger.Warn("Semantic Scholar merge incomplete", "failed", merged.Failed)
		}
	}
	if skipSpider {
		return nil
	}

	opts := spider.Options{
		Client:    &http.Client{Timeout: cfg.Timeout},
		UserAgent: cfg.UserAgent,
	}
	e := &enrich.Enricher{
		Root:     cfg.CorpusDir,
		Adapters: func(c string) (spider.Adapter, error) { return spider.For(c, opts) },
		Delay:    cfg.Delay,
		Logger:   logger,
		Out:      os.Stdout,
	}

	summary, err := e.Run(ctx, conf, year)
	if yamlOutput {
		if encErr := yaml.NewEncoder(os.Stdout).Encode(summary); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(os.Stdout, "\nupdated: %d, failed: %d\n", summary.Updated, summary.Failed)
	}
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d paper(s) could not be enriched", summary.Failed)
	}
	return nil
}
