package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/archivist-dev/archivist/internal/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Open the config file in $EDITOR",
		Long: `Opens the archivist config file in your editor, creating it
with defaults first when it does not exist yet.`,
		RunE: runConfigCommand,
	}
}

func runConfigCommand(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	if err := config.EnsureFile(path); err != nil {
		return err
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		// No editor configured; at least tell the user where the file is.
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	}

	edit := exec.CommandContext(cmd.Context(), editor, path)
	edit.Stdin = os.Stdin
	edit.Stdout = os.Stdout
	edit.Stderr = os.Stderr
	if err := edit.Run(); err != nil {
		return fmt.Errorf("run %s: %w", editor, err)
	}
	return nil
}
