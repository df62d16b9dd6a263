package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [source...]",
		Short: "Crawl sources and reconcile the local archive",
		Long: `Runs one sync per source: crawl the origin, diff against
the stored set, reclaim removed items, download and derive artifacts for
new ones. With no arguments every enabled source is synced.`,
		RunE: runFetchCommand,
	}
}

func runFetchCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.Facade().FetchNamed(cmd.Context(), args); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}
