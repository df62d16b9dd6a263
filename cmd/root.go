// Package cmd defines and implements the CLI commands for the archivist
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/archivist-dev/archivist/internal/app"
	"github.com/archivist-dev/archivist/internal/config"
	"github.com/archivist-dev/archivist/internal/logging"
)

var cfgFile string

// newApp is the application factory. It is a variable so tests can swap
// in a fake.
var newApp = func() (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return app.New(cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archivist",
		Short: "A personal digital-archive toolkit.",
		Long: `archivist crawls your personal corners of the web (Pinboard bookmarks,
Pinterest boards, a local screenshots folder), keeps a searchable local
archive of everything it finds, and serves it to front-ends over HTTP.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is the archivist/config.json under your user config dir)")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "archivist: %v\n", err)
		os.Exit(1)
	}
}

func closeApp(a *app.App) {
	a.Close()
	if err := a.Logger().Sync(); err != nil && !isStdoutSyncErr(err) {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
	}
}

// isStdoutSyncErr filters the well-known zap Sync failure on terminal
// stdout/stderr.
func isStdoutSyncErr(err error) bool {
	msg := err.Error()
	return msg == "sync /dev/stdout: invalid argument" ||
		msg == "sync /dev/stderr: invalid argument"
}
