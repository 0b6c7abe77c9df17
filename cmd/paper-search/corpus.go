// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paper-search/internal/catalog"
	"github.com/pdiddy/paper-search/pkg/types"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Index, summarize and browse the corpus",
	Long: `Corpus maintains a SQLite catalog of the enriched corpus. Run index after
fetch or enrich to refresh it; stats and browse read from the catalog.`,
}

// --- index subcommand ---

var corpusIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load corpus files into the catalog",
	Long: `Index reads every <conf>/<year>.json under the corpus root into the
catalog. Files unchanged since the last run are skipped.`,
	RunE: runCorpusIndex,
}

func runCorpusIndex(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	summary, err := store.Ingest(context.Background(), cfg.Search.CorpusDir, os.Stdout)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d file(s) failed indexing", summary.Failed)
	}
	return nil
}

// --- stats subcommand ---

var corpusStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report missing abstracts per conference and year",
	RunE:  runCorpusStats,
}

func runCorpusStats(cmd *cobra.Command, args []string) error {
	conf, err := conferenceFlag(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")

	store, err := catalog.Open(loadConfig().Catalog.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(context.Background(), conf)
	if err != nil {
		return err
	}

	switch format {
	case "table", "":
		if len(stats) == 0 {
			fmt.Println("Catalog is empty. Run 'paper-search corpus index' first.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "%-6s %-6s %-8s %-8s %s\n", "Conf", "Year", "Missing", "Total", "Percentage")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 40))
		for _, s := range stats {
			fmt.Fprintf(os.Stdout, "%-6s %-6s %-8d %-8d %.1f%%\n",
				s.Conference, s.Year, s.MissingAbstract, s.Total, s.Percent())
		}
		return nil
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(stats)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	default:
		return fmt.Errorf("unsupported format %q: use table, yaml or json", format)
	}
}

// --- browse subcommand ---

var corpusBrowseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List catalog papers by conference, year and keyword",
	RunE:  runCorpusBrowse,
}

func runCorpusBrowse(cmd *cobra.Command, args []string) error {
	conf, err := conferenceFlag(cmd)
	if err != nil {
		return err
	}
	year, _ := cmd.Flags().GetString("year")
	keyword, _ := cmd.Flags().GetString("keyword")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := catalog.Open(loadConfig().Catalog.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	papers, err := store.Browse(context.Background(), catalog.BrowseOptions{
		Conference: conf,
		Year:       year,
		Keyword:    keyword,
		Limit:      limit,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(papers)
	}
	if len(papers) == 0 {
		fmt.Println("No papers found.")
		return nil
	}
	for _, p := range papers {
		title := p.Title
		if len(title) > 90 {
			title = title[:87] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-5s %-5s %s\n", p.Conference, p.Year, title)
	}
	fmt.Fprintf(os.Stdout, "\n%d papers\n", len(papers))
	return nil
}

// conferenceFlag validates --conference; empty means all.
func conferenceFlag(cmd *cobra.Command) (string, error) {
	v, _ := cmd.Flags().GetString("conference")
	c, err := types.ParseConference(v)
	return string(c), err
}

func init() {
	corpusStatsCmd.Flags().String("conference", "", "restrict to one conference (default all)")
	corpusStatsCmd.Flags().String("format", "table", "output format: table, yaml or json")

	corpusBrowseCmd.Flags().String("conference", "", "restrict to one conference (default all)")
	corpusBrowseCmd.Flags().String("year", "", "restrict to one year")
	corpusBrowseCmd.Flags().String("keyword", "", "keyword or title substring")
	corpusBrowseCmd.Flags().Int("limit", 50, "maximum papers to list (0 = all)")
	corpusBrowseCmd.Flags().Bool("json", false, "output papers as JSON")

	corpusCmd.AddCommand(corpusIndexCmd)
	corpusCmd.AddCommand(corpusStatsCmd)
	corpusCmd.AddCommand(corpusBrowseCmd)

	rootCmd.AddCommand(corpusCmd)
}
