// Package query exposes the uniform read contract every front-end
// consumes: one search call across all configured sources, with media
// references resolved to absolute paths.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/media"
)

// Result is the wire form of one item, identical across sources.
type Result struct {
	Img      string    `json:"img,omitempty"`
	ThumbImg string    `json:"thumbImg,omitempty"`
	Link     string    `json:"link"`
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Meta     Meta      `json:"meta"`
}

// Meta carries the source-tagged free-text metadata of a Result.
type Meta struct {
	Source string   `json:"source"`
	Title  string   `json:"title,omitempty"`
	Note   string   `json:"note,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Static string   `json:"static,omitempty"`
}

// Runner triggers one sync run; *sync.Engine implements it.
type Runner interface {
	Run(ctx context.Context) (archive.RunReport, error)
}

// Entry is one registered source.
type Entry struct {
	Name   string
	Store  archive.Store
	Media  *media.Dir
	Engine Runner
}

// Facade composes store lookups across all registered sources.
type Facade struct {
	entries     []Entry
	logger      *zap.Logger
	concurrency int
}

// New builds a Facade. concurrency bounds source fan-out for both search
// and fetch-all.
func New(entries []Entry, concurrency int, logger *zap.Logger) *Facade {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{entries: entries, logger: logger, concurrency: concurrency}
}

// Has reports whether a source with the given name is registered.
func (f *Facade) Has(name string) bool {
	for _, e := range f.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Sources lists the registered source names.
func (f *Facade) Sources() []string {
	names := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		names = append(names, e.Name)
	}
	return names
}

// Search queries every source, merges the results sorted by recency
// descending, and truncates to limit when given. A failing source store
// fails the whole call; a malformed store is a visible error, not a
// silently smaller result set.
func (f *Facade) Search(ctx context.Context, text string, limit int) ([]Result, error) {
	var (
		mu      stdsync.Mutex
		results []Result
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, entry := range f.entries {
		g.Go(func() error {
			items, err := entry.Store.Search(ctx, text, limit)
			if err != nil {
				return fmt.Errorf("search %s: %w", entry.Name, err)
			}
			converted := make([]Result, 0, len(items))
			for _, item := range items {
				converted = append(converted, toResult(entry, item))
			}
			mu.Lock()
			results = append(results, converted...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].Time.Equal(results[j].Time) {
			return results[i].Time.After(results[j].Time)
		}
		return results[i].ID < results[j].ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Fetch triggers a sync run for one source. Run failures are logged, not
// propagated: crawl trouble must never be fatal to a front-end. Only an
// unknown source name is an error.
func (f *Facade) Fetch(ctx context.Context, name string) error {
	for _, entry := range f.entries {
		if entry.Name != name {
			continue
		}
		report, err := entry.Engine.Run(ctx)
		if err != nil {
			f.logger.Error("sync run failed",
				zap.String("source", name),
				zap.String("run_id", report.RunID),
				zap.Error(err))
			return nil
		}
		f.logger.Info("sync run finished",
			zap.String("source", name),
			zap.String("run_id", report.RunID),
			zap.Int("inserted", report.Inserted),
			zap.Int("removed", report.Removed),
			zap.Int("failed", report.Failed),
			zap.Duration("duration", report.Duration))
		return nil
	}
	return fmt.Errorf("unknown source %q", name)
}

// FetchAll runs every source's engine with bounded concurrency and
// returns the joined fatal errors, for the CLI's non-zero exit.
func (f *Facade) FetchAll(ctx context.Context) error {
	return f.runEntries(ctx, f.entries)
}

// FetchNamed runs only the named sources, same error contract as
// FetchAll. An unknown name is an error before any run starts.
func (f *Facade) FetchNamed(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return f.FetchAll(ctx)
	}

	byName := make(map[string]Entry, len(f.entries))
	for _, entry := range f.entries {
		byName[entry.Name] = entry
	}

	selected := make([]Entry, 0, len(names))
	for _, name := range names {
		entry, ok := byName[name]
		if !ok {
			return fmt.Errorf("unknown source %q", name)
		}
		selected = append(selected, entry)
	}
	return f.runEntries(ctx, selected)
}

func (f *Facade) runEntries(ctx context.Context, entries []Entry) error {
	var (
		mu   stdsync.Mutex
		errs []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, entry := range entries {
		g.Go(func() error {
			report, err := entry.Engine.Run(ctx)
			if err != nil {
				f.logger.Error("sync run failed",
					zap.String("source", entry.Name),
					zap.Error(err))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", entry.Name, err))
				mu.Unlock()
				return nil
			}
			f.logger.Info("sync run finished",
				zap.String("source", entry.Name),
				zap.String("run_id", report.RunID),
				zap.Int("inserted", report.Inserted),
				zap.Int("removed", report.Removed),
				zap.Int("failed", report.Failed))
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

func toResult(entry Entry, item archive.Item) Result {
	r := Result{
		Link:   item.SourceRef,
		ID:     item.ID,
		Time:   item.CapturedAt,
		Width:  item.Width,
		Height: item.Height,
		Meta: Meta{
			Source: entry.Name,
			Title:  item.Title,
			Note:   item.Note,
			Tags:   item.Tags,
		},
	}
	if item.CreatedAt != nil {
		r.Time = *item.CreatedAt
	}
	if item.MediaRef != "" {
		r.Img = entry.Media.AssetPath(item.MediaRef)
	}
	if entry.Media.HasThumb(item.ID) {
		r.ThumbImg = entry.Media.ThumbPath(item.ID)
	}
	if item.FrozenRef != "" {
		r.Meta.Static = entry.Media.FrozenPath(item.FrozenRef)
	}
	return r
}
