package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/archivist-dev/archivist/internal/metrics"
)

func newSearchCmd() *cobra.Command {
	var (
		limit   int
		asArray bool
	)

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search the archive across all sources",
		Long: `Searches every source's store with prefix term matching over
title, note, tags and link, merged by recency descending. Results are
printed as NDJSON, one item per line; --json prints a single JSON array.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer closeApp(a)

			results, err := a.Facade().Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			metrics.RecordSearch("cli")

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			if asArray {
				return enc.Encode(results)
			}
			for _, result := range results {
				if err := enc.Encode(result); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of results (0 for all)")
	cmd.Flags().BoolVar(&asArray, "json", false, "print a single JSON array instead of NDJSON")
	return cmd
}
