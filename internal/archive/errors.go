package archive

import (
	"errors"
	"fmt"
)

// ErrDegenerateCrawl is returned when a crawl reports zero items while the
// store is non-empty. Treating such a result as truth would orphan the
// entire store, so the run aborts before any deletion.
var ErrDegenerateCrawl = errors.New("crawl returned no items for a non-empty store")

// FetchError wraps a total crawler failure. Fatal to the run; the store is
// never touched.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EnrichmentError wraps a per-item materialization failure. Isolated: the
// item is dropped from the insert batch and logged, the run continues.
type EnrichmentError struct {
	ItemID    string
	SourceRef string
	Err       error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrich %s (%s): %v", e.ItemID, e.SourceRef, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed store transaction. Fatal to the run; the
// transaction rolled back and the store is unchanged.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
