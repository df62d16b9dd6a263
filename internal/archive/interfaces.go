package archive

import (
	"context"
	"time"
)

// Source is the capability set a crawler plugs into the sync engine.
type Source interface {
	// Name identifies the source ("pinboard", "pinterest", ...). It is
	// used for data directory layout, locking, and result tagging.
	Name() string

	// Crawl returns the complete current item set of the source. A
	// returned error aborts the run before any store mutation.
	Crawl(ctx context.Context) ([]Item, error)

	// Enrich materializes the item's media and derived artifacts
	// (downloads, screenshots). It returns the completed item; an error
	// drops the item from the insert batch for this run only.
	Enrich(ctx context.Context, item Item) (Item, error)
}

// Store persists items for one source with exact and full-text lookup.
type Store interface {
	// UpsertMany inserts or replaces all given items in one transaction;
	// on error nothing is applied.
	UpsertMany(ctx context.Context, items []Item) error

	// DeleteMany removes the rows for the given ids in one transaction.
	DeleteMany(ctx context.Context, ids []string) error

	// Exists reports whether a row with the given id is persisted.
	Exists(ctx context.Context, id string) (bool, error)

	// All returns every persisted item, used by the diff step.
	All(ctx context.Context) ([]Item, error)

	// Search returns items ordered by recency descending. Empty text
	// matches everything; otherwise every whitespace-separated term must
	// prefix-match some token of title, note, tags, link, or archived
	// page text. limit <= 0 means unbounded.
	Search(ctx context.Context, text string, limit int) ([]Item, error)

	Close() error
}

// Cache is a content-addressed get-or-compute cache for derived artifacts.
// Failed computations are never cached; a later call retries.
type Cache interface {
	GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error)
	Evict(ctx context.Context, key string) error
	Close() error
}

// Embedder computes a feature vector for an image file. Inference is an
// external collaborator; implementations call out to whatever model server
// is configured.
type Embedder interface {
	Embed(ctx context.Context, imagePath string) ([]float32, error)
}

// Hasher computes content digests used as item ids and cache keys.
type Hasher interface {
	Hash(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
