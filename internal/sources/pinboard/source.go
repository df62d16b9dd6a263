package pinboard

import (
	"context"
	"fmt"
	"os"
	"strings"
	stdsync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/media"
	"github.com/archivist-dev/archivist/internal/thumb"
)

// Fallback dimensions when a stored screenshot cannot be decoded; the
// capture viewport the crawler has always used.
const (
	fallbackWidth  = 1920
	fallbackHeight = 1080
)

// bookmarkLister is the crawl collaborator; *Client implements it.
type bookmarkLister interface {
	All(ctx context.Context) ([]post, error)
}

// Source implements archive.Source for Pinboard bookmarks.
type Source struct {
	client    bookmarkLister
	capturer  Capturer
	cache     archive.Cache
	media     *media.Dir
	hasher    archive.Hasher
	clock     archive.Clock
	logger    *zap.Logger
	snapshots SnapshotFinder
}

// New constructs the pinboard source.
func New(
	client bookmarkLister,
	capturer Capturer,
	cache archive.Cache,
	dir *media.Dir,
	hasher archive.Hasher,
	clock archive.Clock,
	logger *zap.Logger,
) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		client:   client,
		capturer: capturer,
		cache:    cache,
		media:    dir,
		hasher:   hasher,
		clock:    clock,
		logger:   logger,
	}
}

// WithWayback enables the archived-snapshot fallback for pages that fail
// to capture directly.
func (s *Source) WithWayback(finder SnapshotFinder) *Source {
	s.snapshots = finder
	return s
}

// Name implements archive.Source.
func (s *Source) Name() string { return "pinboard" }

// Crawl lists every bookmark on the account. The id is the SHA-256 of the
// bookmark URL, so an unchanged bookmark keeps its identity across runs.
func (s *Source) Crawl(ctx context.Context) ([]archive.Item, error) {
	posts, err := s.client.All(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	items := make([]archive.Item, 0, len(posts))
	for _, p := range posts {
		if p.Href == "" {
			continue
		}
		item := archive.Item{
			ID:         s.hasher.Hash([]byte(p.Href)),
			SourceRef:  p.Href,
			CapturedAt: now,
			Title:      p.Description,
			Note:       p.Extended,
			Tags:       splitTags(p.Tags),
		}
		if created, err := time.Parse(time.RFC3339, p.Time); err == nil {
			created = created.UTC()
			item.CreatedAt = &created
		}
		items = append(items, item)
	}
	return items, nil
}

// Enrich captures the bookmarked page: a screenshot into assets/ and a
// frozen DOM snapshot into frozen/, both through the content cache so an
// unchanged URL is never rendered twice. The page is visited at most once
// per call even when both artifacts are missing.
func (s *Source) Enrich(ctx context.Context, item archive.Item) (archive.Item, error) {
	capture := s.memoizedCapture(item.SourceRef)

	mediaName, err := s.cache.GetOrCompute(ctx, archive.MediaCacheKey(item.ID), func(ctx context.Context) ([]byte, error) {
		result, err := capture(ctx)
		if err != nil {
			return nil, err
		}
		name, err := s.media.WriteAsset(item.ID+".png", result.Screenshot)
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	})
	if err != nil {
		return archive.Item{}, fmt.Errorf("screenshot: %w", err)
	}
	item.MediaRef = string(mediaName)

	frozenName, err := s.cache.GetOrCompute(ctx, archive.FrozenCacheKey(item.ID), func(ctx context.Context) ([]byte, error) {
		result, err := capture(ctx)
		if err != nil {
			return nil, err
		}
		name, err := s.media.WriteFrozen(item.ID+".html", []byte(result.HTML))
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	})
	if err != nil {
		return archive.Item{}, fmt.Errorf("freeze: %w", err)
	}
	item.FrozenRef = string(frozenName)

	// Index the archived page text, read back from the frozen snapshot so
	// cache hits are covered too. Best effort: an unparseable page keeps
	// its other artifacts.
	if text, err := s.pageText(item.FrozenRef); err != nil {
		s.logger.Warn("page text extraction failed", zap.String("id", item.ID), zap.Error(err))
	} else {
		item.Fulltext = text
	}

	item.Width, item.Height = s.screenshotSize(item.MediaRef)
	return item, nil
}

func (s *Source) pageText(frozenRef string) (string, error) {
	data, err := os.ReadFile(s.media.FrozenPath(frozenRef))
	if err != nil {
		return "", err
	}
	return extractText(data)
}

// memoizedCapture visits the page at most once, sharing the result
// between the screenshot and freeze cache computations.
func (s *Source) memoizedCapture(pageURL string) func(context.Context) (CaptureResult, error) {
	var (
		once   stdsync.Once
		result CaptureResult
		err    error
	)
	return func(ctx context.Context) (CaptureResult, error) {
		once.Do(func() {
			s.logger.Debug("capturing page", zap.String("url", pageURL))
			result, err = s.capturer.Capture(ctx, pageURL)
			if err == nil || s.snapshots == nil {
				return
			}

			// Dead page: archive the closest wayback snapshot instead.
			snapshot, lookupErr := s.snapshots.ClosestSnapshot(ctx, pageURL)
			if lookupErr != nil {
				s.logger.Warn("wayback lookup failed",
					zap.String("url", pageURL), zap.Error(lookupErr))
				return
			}
			if snapshot == "" {
				return
			}
			s.logger.Info("capturing wayback snapshot",
				zap.String("url", pageURL), zap.String("snapshot", snapshot))
			if res, snapErr := s.capturer.Capture(ctx, snapshot); snapErr == nil {
				result, err = res, nil
			}
		})
		return result, err
	}
}

func (s *Source) screenshotSize(mediaRef string) (int, int) {
	data, err := os.ReadFile(s.media.AssetPath(mediaRef))
	if err != nil {
		return fallbackWidth, fallbackHeight
	}
	w, h, err := thumb.Dimensions(data)
	if err != nil {
		return fallbackWidth, fallbackHeight
	}
	return w, h
}

func splitTags(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
