// Package app initializes and holds long-lived application services,
// acting as a dependency injection container for the CLI and the server.
package app

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/cache"
	"github.com/archivist-dev/archivist/internal/clock/system"
	"github.com/archivist-dev/archivist/internal/config"
	"github.com/archivist-dev/archivist/internal/embed"
	"github.com/archivist-dev/archivist/internal/hash/sha256"
	"github.com/archivist-dev/archivist/internal/media"
	"github.com/archivist-dev/archivist/internal/metrics"
	"github.com/archivist-dev/archivist/internal/query"
	"github.com/archivist-dev/archivist/internal/runlog"
	"github.com/archivist-dev/archivist/internal/sources/pinboard"
	"github.com/archivist-dev/archivist/internal/sources/pinterest"
	"github.com/archivist-dev/archivist/internal/sources/screenshots"
	"github.com/archivist-dev/archivist/internal/store"
	syncengine "github.com/archivist-dev/archivist/internal/sync"
)

// App holds the shared services built from one Config: per-source stores,
// caches, media directories and sync engines, composed behind the query
// facade. Initialized once at startup, closed once at shutdown.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	facade  *query.Facade
	runs    *runlog.Log
	closers []func() error
}

// New builds every configured source and its collaborators. It fails fast
// when any service cannot be initialized.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger, runs: runlog.New(50)}
	hasher := sha256.New()
	clock := system.New()

	engineCfg := syncengine.Config{
		Concurrency: cfg.Sync.Concurrency,
		ItemTimeout: cfg.ItemTimeout(),
		ThumbWidth:  cfg.Sync.ThumbWidth,
	}

	var entries []query.Entry
	for _, name := range cfg.EnabledSources() {
		sourceDir := filepath.Join(cfg.DataDir, name)

		dir, err := media.New(sourceDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init %s media: %w", name, err)
		}
		st, err := store.Open(filepath.Join(sourceDir, "data.db"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init %s store: %w", name, err)
		}
		a.closers = append(a.closers, st.Close)
		ca, err := cache.Open(filepath.Join(sourceDir, "cache.db"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init %s cache: %w", name, err)
		}
		a.closers = append(a.closers, ca.Close)

		source, err := a.buildSource(name, ca, dir, hasher, clock)
		if err != nil {
			a.Close()
			return nil, err
		}

		engine := syncengine.New(source, st, ca, dir, clock, logger.Named("sync"), engineCfg)
		engine.WithRunLog(a.runs)
		if cfg.Embed.Enabled {
			inner := embed.NewHTTP(cfg.Embed.Endpoint, 30*time.Second)
			engine.WithEmbedder(embed.NewCached(inner, ca, hasher), hasher)
		}

		entries = append(entries, query.Entry{
			Name:   name,
			Store:  st,
			Media:  dir,
			Engine: engine,
		})
	}

	a.facade = query.New(entries, cfg.Sync.Concurrency, logger.Named("query"))
	return a, nil
}

func (a *App) buildSource(
	name string,
	ca archive.Cache,
	dir *media.Dir,
	hasher *sha256.Hasher,
	clock archive.Clock,
) (archive.Source, error) {
	switch name {
	case "pinboard":
		capturer, err := pinboard.NewChromeCapturer(pinboard.CaptureConfig{
			MaxParallel:       a.cfg.Pinboard.MaxParallelPages,
			UserAgent:         a.cfg.Pinboard.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Pinboard.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init pinboard capturer: %w", err)
		}
		a.closers = append(a.closers, func() error {
			capturer.Close()
			return nil
		})
		client := pinboard.NewClient(a.cfg.Pinboard.APIToken, 60*time.Second)
		source := pinboard.New(client, capturer, ca, dir, hasher, clock, a.logger.Named("pinboard"))
		return source.WithWayback(pinboard.NewWayback(15 * time.Second)), nil

	case "pinterest":
		return pinterest.New(pinterest.Config{
			Boards:    a.cfg.Pinterest.Boards,
			UserAgent: a.cfg.Pinterest.UserAgent,
			Timeout:   time.Duration(a.cfg.Pinterest.TimeoutSeconds) * time.Second,
		}, ca, dir, hasher, clock, a.logger.Named("pinterest")), nil

	case "screenshots":
		return screenshots.New(screenshots.Config{
			Directory: a.cfg.Screenshots.Directory,
		}, ca, dir, hasher, clock, a.logger.Named("screenshots")), nil
	}
	return nil, fmt.Errorf("unknown source %q", name)
}

// Facade returns the query facade over every configured source.
func (a *App) Facade() *query.Facade {
	return a.facade
}

// Runs returns the shared history of recent sync runs.
func (a *App) Runs() *runlog.Log {
	return a.runs
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Close shuts down every service in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("service shutdown failed", zap.Error(err))
		}
	}
	a.closers = nil
}
