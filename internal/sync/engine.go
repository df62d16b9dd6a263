// Package sync implements the incremental reconciliation engine: diff the
// latest crawl against the persisted set, reclaim orphans, materialize and
// persist new items, and backfill derived thumbnails.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/media"
	"github.com/archivist-dev/archivist/internal/metrics"
	"github.com/archivist-dev/archivist/internal/runlog"
	"github.com/archivist-dev/archivist/internal/thumb"
)

// ErrRunInProgress is returned when another sync run holds the source lock.
var ErrRunInProgress = errors.New("a sync run for this source is already in progress")

// Config controls engine behavior.
type Config struct {
	// Concurrency bounds the materialize worker pool. Defaults to 10,
	// the fan-out the crawlers have always used.
	Concurrency int

	// ItemTimeout bounds one item's enrichment (navigation, download,
	// inference). A timed-out item is an isolated failure.
	ItemTimeout time.Duration

	// ThumbWidth is the derived thumbnail width in pixels.
	ThumbWidth int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 90 * time.Second
	}
	if c.ThumbWidth <= 0 {
		c.ThumbWidth = thumb.DefaultWidth
	}
	return c
}

// Engine reconciles one source. A run either completes every step or
// aborts with the store unchanged from before the failing transaction.
type Engine struct {
	source   archive.Source
	store    archive.Store
	cache    archive.Cache
	media    *media.Dir
	clock    archive.Clock
	logger   *zap.Logger
	cfg      Config
	embedder archive.Embedder
	fileHash FileHasher
	runLog   *runlog.Log
}

// New constructs an Engine for one source.
func New(
	source archive.Source,
	store archive.Store,
	cache archive.Cache,
	dir *media.Dir,
	clock archive.Clock,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source: source,
		store:  store,
		cache:  cache,
		media:  dir,
		clock:  clock,
		logger: logger.With(zap.String("source", source.Name())),
		cfg:    cfg.withDefaults(),
	}
}

// FileHasher digests a file's content. It must match the keying of the
// cached embedder so reclaim can evict a stored vector by re-hashing the
// orphan's asset.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// WithEmbedder makes derive also compute embedding vectors for media.
// Vectors are a best-effort derived artifact, like thumbnails.
func (e *Engine) WithEmbedder(embedder archive.Embedder, hasher FileHasher) *Engine {
	e.embedder = embedder
	e.fileHash = hasher
	return e
}

// WithRunLog records every completed run in the shared run history.
func (e *Engine) WithRunLog(log *runlog.Log) *Engine {
	e.runLog = log
	return e
}

// Run executes one reconciliation. Two runs for the same source exclude
// each other via an advisory file lock in the source's data directory;
// runs for distinct sources are independent.
func (e *Engine) Run(ctx context.Context) (archive.RunReport, error) {
	report := archive.RunReport{
		RunID:  uuid.NewString(),
		Source: e.source.Name(),
	}
	logger := e.logger.With(zap.String("run_id", report.RunID))
	start := e.clock.Now()

	lock := flock.New(filepath.Join(e.media.Root(), ".sync.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return report, fmt.Errorf("acquire source lock: %w", err)
	}
	if !locked {
		return report, ErrRunInProgress
	}
	defer lock.Unlock()

	err = e.run(ctx, &report, logger)

	status := "ok"
	if err != nil {
		status = "failed"
	}
	report.Duration = e.clock.Now().Sub(start)
	metrics.RecordRun(report.Source, status, report.Duration)
	if e.runLog != nil {
		e.runLog.Record(report, start, err)
	}
	return report, err
}

func (e *Engine) run(ctx context.Context, report *archive.RunReport, logger *zap.Logger) error {
	crawled, err := e.source.Crawl(ctx)
	if err != nil {
		return &archive.FetchError{Source: report.Source, Err: err}
	}
	report.Crawled = len(crawled)

	stored, err := e.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load stored items: %w", err)
	}

	// An empty crawl against a non-empty store looks like a transient
	// crawler failure, not a mass deletion. Refuse to reclaim.
	if len(crawled) == 0 && len(stored) > 0 {
		logger.Warn("crawl returned no items, refusing to orphan the store",
			zap.Int("stored", len(stored)))
		return archive.ErrDegenerateCrawl
	}

	delta := diff(crawled, stored)
	logger.Info("reconciling",
		zap.Int("crawled", len(crawled)),
		zap.Int("stored", len(stored)),
		zap.Int("new", len(delta.ToInsert)),
		zap.Int("orphaned", len(delta.ToRemove)),
	)

	if err := e.reclaim(ctx, delta.ToRemove, logger); err != nil {
		return err
	}
	report.Removed = len(delta.ToRemove)

	materialized := e.materialize(ctx, delta.ToInsert, logger)
	report.Failed = len(delta.ToInsert) - len(materialized)

	if err := e.store.UpsertMany(ctx, materialized); err != nil {
		return err
	}
	report.Inserted = len(materialized)
	for range materialized {
		metrics.RecordItem(report.Source, "inserted")
	}

	report.ThumbsMade = e.derive(ctx, logger)
	return nil
}

// diff computes the insert/remove delta by id equality, order independent.
func diff(crawled, stored []archive.Item) archive.Delta {
	crawledIDs := make(map[string]struct{}, len(crawled))
	for _, item := range crawled {
		crawledIDs[item.ID] = struct{}{}
	}
	storedIDs := make(map[string]struct{}, len(stored))
	for _, item := range stored {
		storedIDs[item.ID] = struct{}{}
	}

	var delta archive.Delta
	for _, item := range crawled {
		if _, ok := storedIDs[item.ID]; !ok {
			delta.ToInsert = append(delta.ToInsert, item)
		}
	}
	for _, item := range stored {
		if _, ok := crawledIDs[item.ID]; !ok {
			delta.ToRemove = append(delta.ToRemove, item)
		}
	}
	return delta
}

// reclaim deletes orphaned items: media files and cache entries first
// (best-effort), then all rows in a single transaction.
func (e *Engine) reclaim(ctx context.Context, orphaned []archive.Item, logger *zap.Logger) error {
	if len(orphaned) == 0 {
		return nil
	}

	ids := make([]string, 0, len(orphaned))
	for _, item := range orphaned {
		ids = append(ids, item.ID)

		keys := []string{
			archive.MediaCacheKey(item.ID),
			archive.FrozenCacheKey(item.ID),
			archive.ThumbCacheKey(item.ID),
		}
		// The vector key is derived from the asset bytes, so it has to be
		// recovered before the file goes away.
		if key := e.embedKey(item); key != "" {
			keys = append(keys, key)
		}

		if err := e.media.RemoveItemFiles(item.ID, item.MediaRef, item.FrozenRef); err != nil {
			logger.Warn("orphan file cleanup failed", zap.String("id", item.ID), zap.Error(err))
		}
		for _, key := range keys {
			if err := e.cache.Evict(ctx, key); err != nil {
				logger.Warn("cache eviction failed", zap.String("key", key), zap.Error(err))
			}
		}
		logger.Debug("orphan reclaimed", zap.String("id", item.ID), zap.String("ref", item.SourceRef))
	}

	if err := e.store.DeleteMany(ctx, ids); err != nil {
		return err
	}
	for range ids {
		metrics.RecordItem(e.source.Name(), "removed")
	}
	return nil
}

func (e *Engine) embedKey(item archive.Item) string {
	if e.fileHash == nil || item.MediaRef == "" {
		return ""
	}
	hash, err := e.fileHash.HashFile(e.media.AssetPath(item.MediaRef))
	if err != nil {
		return ""
	}
	return archive.EmbedCacheKey(hash)
}

// materialize enriches new items through a bounded pool. A failing item is
// dropped from the batch and logged; it never aborts the run.
func (e *Engine) materialize(ctx context.Context, items []archive.Item, logger *zap.Logger) []archive.Item {
	if len(items) == 0 {
		return nil
	}

	var (
		mu        stdsync.Mutex
		completed []archive.Item
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for _, item := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			itemCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
			defer cancel()

			enriched, err := e.source.Enrich(itemCtx, item)
			if err != nil {
				enrichErr := &archive.EnrichmentError{ItemID: item.ID, SourceRef: item.SourceRef, Err: err}
				logger.Warn("enrichment failed, dropping item", zap.Error(enrichErr))
				metrics.RecordItem(e.source.Name(), "failed")
				return nil
			}

			mu.Lock()
			completed = append(completed, enriched)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return completed
}

// derive backfills thumbnails for persisted items that lack one. Failures
// are logged and never roll back the persist step.
func (e *Engine) derive(ctx context.Context, logger *zap.Logger) int {
	items, err := e.store.All(ctx)
	if err != nil {
		logger.Warn("thumbnail backfill skipped", zap.Error(err))
		return 0
	}

	made := 0
	for _, item := range items {
		if item.MediaRef == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		if !e.media.HasThumb(item.ID) && e.makeThumb(ctx, item, logger) {
			made++
		}

		if e.embedder != nil {
			if _, err := e.embedder.Embed(ctx, e.media.AssetPath(item.MediaRef)); err != nil {
				logger.Warn("embedding failed", zap.String("id", item.ID), zap.Error(err))
			}
		}
	}
	return made
}

func (e *Engine) makeThumb(ctx context.Context, item archive.Item, logger *zap.Logger) bool {
	// The cache value is the thumbnail's file name; the compute callback
	// writes the file itself.
	_, err := e.cache.GetOrCompute(ctx, archive.ThumbCacheKey(item.ID), func(context.Context) ([]byte, error) {
		src, err := os.ReadFile(e.media.AssetPath(item.MediaRef))
		if err != nil {
			return nil, err
		}
		data, err := thumb.Make(src, e.cfg.ThumbWidth)
		if err != nil {
			return nil, err
		}
		name, err := e.media.WriteThumb(item.ID, data)
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	})
	if err != nil {
		logger.Warn("thumbnail generation failed",
			zap.String("id", item.ID), zap.Error(err))
		return false
	}
	if !e.media.HasThumb(item.ID) {
		// Entry survived but the file is gone; drop it so the next run
		// regenerates.
		if err := e.cache.Evict(ctx, archive.ThumbCacheKey(item.ID)); err != nil {
			logger.Warn("cache eviction failed", zap.String("id", item.ID), zap.Error(err))
		}
		return false
	}
	return true
}
