// Package pinterest archives pins from the configured boards. Board pages
// are crawled with colly; pin images are downloaded as media assets.
package pinterest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	stdsync "sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/media"
	"github.com/archivist-dev/archivist/internal/thumb"
)

// Config controls the board crawler.
type Config struct {
	// Boards are board URLs, e.g. https://www.pinterest.com/user/board/.
	Boards []string

	UserAgent string
	Timeout   time.Duration
}

// pin is what one crawled board entry carries beyond the Item fields:
// the image URL to download during enrichment.
type pin struct {
	imageURL string
	board    string
}

// Source implements archive.Source for Pinterest boards.
type Source struct {
	cfg    Config
	cache  archive.Cache
	media  *media.Dir
	hasher archive.Hasher
	clock  archive.Clock
	logger *zap.Logger
	http   *http.Client

	mu   stdsync.Mutex
	pins map[string]pin // item id -> crawl-scoped pin data
}

// New constructs the pinterest source.
func New(
	cfg Config,
	cache archive.Cache,
	dir *media.Dir,
	hasher archive.Hasher,
	clock archive.Clock,
	logger *zap.Logger,
) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
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
		http:   &http.Client{Timeout: cfg.Timeout},
		pins:   make(map[string]pin),
	}
}

// Name implements archive.Source.
func (s *Source) Name() string { return "pinterest" }

// Crawl visits every configured board and collects its pins. The id is
// the SHA-256 of the canonical pin URL. Image URLs seen during the crawl
// are kept aside for Enrich.
func (s *Source) Crawl(ctx context.Context) ([]archive.Item, error) {
	if len(s.cfg.Boards) == 0 {
		return nil, fmt.Errorf("pinterest: no boards configured")
	}

	s.mu.Lock()
	s.pins = make(map[string]pin)
	s.mu.Unlock()

	now := s.clock.Now()
	seen := make(map[string]archive.Item)
	var crawlErr error

	collector := s.newCollector(now, seen, &crawlErr)

	for _, board := range s.cfg.Boards {
		if err := s.visitBoard(ctx, collector, board); err != nil {
			return nil, err
		}
	}

	if crawlErr != nil {
		return nil, crawlErr
	}

	items := make([]archive.Item, 0, len(seen))
	for _, item := range seen {
		items = append(items, item)
	}
	return items, nil
}

func (s *Source) visitBoard(ctx context.Context, collector *colly.Collector, board string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(board)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("pinterest: crawl canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("pinterest: visit board %s: %w", board, err)
		}
		return nil
	}
}

func (s *Source) newCollector(now time.Time, seen map[string]archive.Item, crawlErr *error) *colly.Collector {
	opts := []colly.CollectorOption{colly.MaxDepth(1)}
	if s.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(s.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	var mu stdsync.Mutex

	collector.OnHTML(`div[data-test-id="pin"]`, func(e *colly.HTMLElement) {
		pinPath := e.ChildAttr(`a[href^="/pin/"]`, "href")
		img := e.ChildAttr("img", "src")
		title := strings.TrimSpace(e.ChildAttr("img", "alt"))
		if pinPath == "" || img == "" {
			return
		}

		pinURL := canonicalPinURL(e.Request.AbsoluteURL(pinPath))
		if pinURL == "" {
			return
		}
		id := s.hasher.Hash([]byte(pinURL))
		board := boardSlug(e.Request.URL)

		mu.Lock()
		if _, ok := seen[id]; !ok {
			seen[id] = archive.Item{
				ID:         id,
				SourceRef:  pinURL,
				CapturedAt: now,
				Title:      title,
				Tags:       []string{board},
			}
			s.mu.Lock()
			s.pins[id] = pin{imageURL: originalImageURL(img), board: board}
			s.mu.Unlock()
		}
		mu.Unlock()
	})

	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		if *crawlErr == nil {
			*crawlErr = fmt.Errorf("pinterest: fetch %s: %w", r.Request.URL, err)
		}
		mu.Unlock()
	})

	return collector
}

// Enrich downloads the pin image into assets/ through the content cache
// and records its dimensions.
func (s *Source) Enrich(ctx context.Context, item archive.Item) (archive.Item, error) {
	s.mu.Lock()
	p, ok := s.pins[item.ID]
	s.mu.Unlock()
	if !ok {
		return archive.Item{}, fmt.Errorf("pinterest: no image url recorded for %s", item.SourceRef)
	}

	mediaName, err := s.cache.GetOrCompute(ctx, archive.MediaCacheKey(item.ID), func(ctx context.Context) ([]byte, error) {
		data, err := s.download(ctx, p.imageURL)
		if err != nil {
			return nil, err
		}
		name, err := s.media.WriteAsset(item.ID+imageExt(p.imageURL), data)
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	})
	if err != nil {
		return archive.Item{}, fmt.Errorf("download image: %w", err)
	}
	item.MediaRef = string(mediaName)

	if data, err := readAsset(s.media, item.MediaRef); err == nil {
		if w, h, err := thumb.Dimensions(data); err == nil {
			item.Width, item.Height = w, h
		}
	}
	return item, nil
}

func (s *Source) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", imageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d", imageURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// canonicalPinURL strips query and fragment so the same pin always hashes
// to the same id.
func canonicalPinURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// originalImageURL rewrites a sized CDN URL (/236x/, /474x/...) to the
// full-resolution variant.
func originalImageURL(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return src
	}
	parts := strings.Split(u.Path, "/")
	if len(parts) > 1 && sizeSegment(parts[1]) {
		parts[1] = "originals"
		u.Path = strings.Join(parts, "/")
	}
	return u.String()
}

func sizeSegment(s string) bool {
	if s == "" || !strings.HasSuffix(s, "x") {
		return false
	}
	for _, r := range strings.TrimSuffix(s, "x") {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func boardSlug(u *url.URL) string {
	return strings.Trim(path.Base(strings.TrimRight(u.Path, "/")), "/")
}

func imageExt(imageURL string) string {
	ext := strings.ToLower(path.Ext(imageURL))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}

func readAsset(dir *media.Dir, name string) ([]byte, error) {
	return os.ReadFile(dir.AssetPath(name))
}
