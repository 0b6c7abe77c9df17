// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paper-search/internal/catalog"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent searches",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		store, err := catalog.Open(loadConfig().Catalog.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.History(context.Background(), limit)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		if len(recs) == 0 {
			fmt.Println("No searches recorded.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "%-20s  %-6s  %-10s  %-8s  %s\n", "When", "Conf", "Years", "Relevant", "Query")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 80))
		for _, r := range recs {
			conf := r.Conference
			if conf == "" {
				conf = "all"
			}
			fmt.Fprintf(os.Stdout, "%-20s  %-6s  %-10s  %-8d  %s\n",
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"), conf, r.Years, r.Relevant, r.Query)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of searches to show (0 = all)")
	historyCmd.Flags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(historyCmd)
}
