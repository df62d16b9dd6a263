// Package screenshots archives PNG screenshots from a local directory.
// Identity is the hash of the file content, so renames and re-captures of
// identical images do not create duplicates.
package screenshots

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"

	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/hash/sha256"
	"github.com/archivist-dev/archivist/internal/media"
	"github.com/archivist-dev/archivist/internal/thumb"
)

// Config controls the directory scanner.
type Config struct {
	// Directory is the folder to scan for *.png files. Not recursive.
	Directory string
}

// Source implements archive.Source for a local screenshots folder.
type Source struct {
	cfg    Config
	cache  archive.Cache
	media  *media.Dir
	hasher *sha256.Hasher
	clock  archive.Clock
	logger *zap.Logger

	mu    stdsync.Mutex
	paths map[string]string // item id -> source file path, crawl-scoped
}

// New constructs the screenshots source.
func New(
	cfg Config,
	cache archive.Cache,
	dir *media.Dir,
	hasher *sha256.Hasher,
	clock archive.Clock,
	logger *zap.Logger,
) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		cfg:    cfg,
		cache:  cache,
		media:  dir,
		hasher: hasher,
		clock:  clock,
		logger: logger,
		paths:  make(map[string]string),
	}
}

// Name implements archive.Source.
func (s *Source) Name() string { return "screenshots" }

// Crawl lists the PNG files in the configured directory. The file content
// hash is the id, and the file's modification time is kept as CreatedAt.
func (s *Source) Crawl(ctx context.Context) ([]archive.Item, error) {
	if s.cfg.Directory == "" {
		return nil, fmt.Errorf("screenshots: no directory configured")
	}

	entries, err := os.ReadDir(s.cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("screenshots: read %s: %w", s.cfg.Directory, err)
	}

	s.mu.Lock()
	s.paths = make(map[string]string)
	s.mu.Unlock()

	now := s.clock.Now()
	items := make([]archive.Item, 0, len(entries))
	seen := make(map[string]bool)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("screenshots: crawl canceled: %w", err)
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".png") {
			continue
		}

		path := filepath.Join(s.cfg.Directory, entry.Name())
		id, err := s.hasher.HashFile(path)
		if err != nil {
			return nil, fmt.Errorf("screenshots: hash %s: %w", path, err)
		}
		if seen[id] {
			s.logger.Debug("skipping duplicate screenshot",
				zap.String("path", path),
				zap.String("id", id))
			continue
		}
		seen[id] = true

		item := archive.Item{
			ID:         id,
			SourceRef:  path,
			CapturedAt: now,
			Title:      strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
		}
		if info, err := entry.Info(); err == nil {
			mtime := info.ModTime().UTC()
			item.CreatedAt = &mtime
		}

		s.mu.Lock()
		s.paths[id] = path
		s.mu.Unlock()

		items = append(items, item)
	}
	return items, nil
}

// Enrich copies the screenshot into assets/ through the content cache and
// records its dimensions. The original file is left in place.
func (s *Source) Enrich(ctx context.Context, item archive.Item) (archive.Item, error) {
	s.mu.Lock()
	path, ok := s.paths[item.ID]
	s.mu.Unlock()
	if !ok {
		path = item.SourceRef
	}

	mediaName, err := s.cache.GetOrCompute(ctx, archive.MediaCacheKey(item.ID), func(context.Context) ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name, err := s.media.WriteAsset(item.ID+".png", data)
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	})
	if err != nil {
		return archive.Item{}, fmt.Errorf("copy screenshot: %w", err)
	}
	item.MediaRef = string(mediaName)

	if data, err := os.ReadFile(s.media.AssetPath(item.MediaRef)); err == nil {
		if w, h, err := thumb.Dimensions(data); err == nil {
			item.Width, item.Height = w, h
		}
	}
	return item, nil
}
