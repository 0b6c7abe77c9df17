// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-search/internal/corpus"
	"github.com/pdiddy/paper-search/internal/dblp"
	"github.com/pdiddy/paper-search/pkg/types"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download conference tables of contents from DBLP",
	Long: `Fetch downloads the DBLP table of contents for each conference and year
into <fetch.output_dir>/<conf>/<year>.json (default data/dblp). Venue-years
that fail are listed at the end; rerun fetch to retry them. Use
'enrich --seed-from' to move new files into the corpus.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("conference", "", "fetch one conference (default all four)")
	fetchCmd.Flags().String("years", "", "years to fetch (default search.years)")
	fetchCmd.Flags().String("output-dir", "", "destination directory (default data/dblp)")

	bindFlag("fetch.output_dir", fetchCmd.Flags().Lookup("output-dir"))

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	conf, err := conferenceFlag(cmd)
	if err != nil {
		return err
	}
	confs := make([]string, 0, len(types.Conferences))
	if conf != "" {
		confs = append(confs, conf)
	} else {
		for _, c := range types.Conferences {
			confs = append(confs, string(c))
		}
	}

	cfg := loadConfig()
	yearSpec, _ := cmd.Flags().GetString("years")
	years := corpus.ParseYears(yearSpec, cfg.Search.Years, logger)
	if len(years) == 0 {
		return fmt.Errorf("no valid years in %q", yearSpec)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := dblp.NewFetcher(cfg.Fetch, logger, os.Stdout)
	summary, err := f.Run(ctx, confs, years)
	fmt.Fprintf(os.Stdout, "\nsaved: %d, failed: %d\n", summary.Saved, len(summary.Failed))
	for _, label := range summary.Failed {
		fmt.Fprintf(os.Stdout, "  - %s\n", label)
	}
	if err != nil {
		return err
	}
	if summary.HasFailures() {
		return fmt.Errorf("%d venue-year(s) failed", len(summary.Failed))
	}
	return nil
}
