package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/media"
	"github.com/archivist-dev/archivist/internal/store"
)

func newEntry(t *testing.T, name string) Entry {
	t.Helper()
	root := filepath.Join(t.TempDir(), name)

	s, err := store.Open(filepath.Join(root, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	dir, err := media.New(root)
	require.NoError(t, err)

	return Entry{Name: name, Store: s, Media: dir}
}

func seed(t *testing.T, e Entry, items ...archive.Item) {
	t.Helper()
	require.NoError(t, e.Store.UpsertMany(context.Background(), items))
}

func at(hoursAgo int) time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(-time.Duration(hoursAgo) * time.Hour)
}

func TestSearch_MergesSourcesByRecency(t *testing.T) {
	t.Parallel()

	pins := newEntry(t, "pinterest")
	marks := newEntry(t, "pinboard")
	seed(t, pins,
		archive.Item{ID: "p1", SourceRef: "https://p/1", CapturedAt: at(3), Title: "older pin"},
		archive.Item{ID: "p2", SourceRef: "https://p/2", CapturedAt: at(1), Title: "newer pin"},
	)
	seed(t, marks,
		archive.Item{ID: "m1", SourceRef: "https://m/1", CapturedAt: at(2), Title: "bookmark"},
	)

	f := New([]Entry{pins, marks}, 2, zap.NewNop())
	got, err := f.Search(context.Background(), "", 0)
	require.NoError(t, err)

	require.Len(t, got, 3)
	require.Equal(t, []string{"p2", "m1", "p1"}, []string{got[0].ID, got[1].ID, got[2].ID})
	require.Equal(t, "pinterest", got[0].Meta.Source)
	require.Equal(t, "pinboard", got[1].Meta.Source)
}

func TestSearch_LimitAppliesAfterMerge(t *testing.T) {
	t.Parallel()

	a := newEntry(t, "a")
	b := newEntry(t, "b")
	seed(t, a, archive.Item{ID: "a1", SourceRef: "r", CapturedAt: at(1)})
	seed(t, b,
		archive.Item{ID: "b1", SourceRef: "r", CapturedAt: at(2)},
		archive.Item{ID: "b2", SourceRef: "r", CapturedAt: at(3)},
	)

	f := New([]Entry{a, b}, 2, zap.NewNop())
	got, err := f.Search(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a1", got[0].ID)
	require.Equal(t, "b1", got[1].ID)
}

func TestSearch_ResolvesMediaPaths(t *testing.T) {
	t.Parallel()

	e := newEntry(t, "pinboard")
	_, err := e.Media.WriteAsset("x.png", []byte("img"))
	require.NoError(t, err)
	_, err = e.Media.WriteThumb("x", []byte("thumb"))
	require.NoError(t, err)
	_, err = e.Media.WriteFrozen("x.html", []byte("<html/>"))
	require.NoError(t, err)

	seed(t, e, archive.Item{
		ID:         "x",
		SourceRef:  "https://example.com/x",
		CapturedAt: at(1),
		MediaRef:   "x.png",
		FrozenRef:  "x.html",
	})

	f := New([]Entry{e}, 1, zap.NewNop())
	got, err := f.Search(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.Equal(t, e.Media.AssetPath("x.png"), got[0].Img)
	require.Equal(t, e.Media.ThumbPath("x"), got[0].ThumbImg)
	require.Equal(t, e.Media.FrozenPath("x.html"), got[0].Meta.Static)
	require.Equal(t, "https://example.com/x", got[0].Link)
}

func TestSearch_PrefersOriginCreationTime(t *testing.T) {
	t.Parallel()

	e := newEntry(t, "pinboard")
	created := at(100)
	seed(t, e, archive.Item{
		ID:         "x",
		SourceRef:  "r",
		CapturedAt: at(1),
		CreatedAt:  &created,
	})

	f := New([]Entry{e}, 1, zap.NewNop())
	got, err := f.Search(context.Background(), "", 0)
	require.NoError(t, err)
	require.True(t, got[0].Time.Equal(created))
}

type failingStore struct {
	archive.Store
}

func (failingStore) Search(context.Context, string, int) ([]archive.Item, error) {
	return nil, errors.New("malformed database")
}

func TestSearch_StoreFailurePropagates(t *testing.T) {
	t.Parallel()

	ok := newEntry(t, "ok")
	broken := newEntry(t, "broken")
	broken.Store = failingStore{broken.Store}

	f := New([]Entry{ok, broken}, 2, zap.NewNop())
	_, err := f.Search(context.Background(), "", 0)
	require.ErrorContains(t, err, "broken")
}

type fakeRunner struct {
	report archive.RunReport
	err    error
	runs   int
}

func (r *fakeRunner) Run(context.Context) (archive.RunReport, error) {
	r.runs++
	return r.report, r.err
}

func TestFetch_RunFailureIsLoggedNotPropagated(t *testing.T) {
	t.Parallel()

	e := newEntry(t, "pinboard")
	runner := &fakeRunner{err: errors.New("crawl blew up")}
	e.Engine = runner

	f := New([]Entry{e}, 1, zap.NewNop())
	require.NoError(t, f.Fetch(context.Background(), "pinboard"))
	require.Equal(t, 1, runner.runs)
}

func TestFetch_UnknownSource(t *testing.T) {
	t.Parallel()

	f := New(nil, 1, zap.NewNop())
	require.Error(t, f.Fetch(context.Background(), "nope"))
}

func TestFetchAll_CollectsFatalErrors(t *testing.T) {
	t.Parallel()

	good := newEntry(t, "good")
	goodRunner := &fakeRunner{}
	good.Engine = goodRunner

	bad := newEntry(t, "bad")
	bad.Engine = &fakeRunner{err: archive.ErrDegenerateCrawl}

	f := New([]Entry{good, bad}, 2, zap.NewNop())
	err := f.FetchAll(context.Background())
	require.ErrorIs(t, err, archive.ErrDegenerateCrawl)
	require.Equal(t, 1, goodRunner.runs, "a failing source must not stop the others")
}

func TestFetchNamed_RunsOnlySelectedSources(t *testing.T) {
	t.Parallel()

	first := newEntry(t, "pinboard")
	firstRunner := &fakeRunner{}
	first.Engine = firstRunner

	second := newEntry(t, "pinterest")
	secondRunner := &fakeRunner{}
	second.Engine = secondRunner

	f := New([]Entry{first, second}, 2, zap.NewNop())
	require.NoError(t, f.FetchNamed(context.Background(), []string{"pinterest"}))
	require.Zero(t, firstRunner.runs)
	require.Equal(t, 1, secondRunner.runs)
}

func TestFetchNamed_UnknownNameFailsBeforeAnyRun(t *testing.T) {
	t.Parallel()

	e := newEntry(t, "pinboard")
	runner := &fakeRunner{}
	e.Engine = runner

	f := New([]Entry{e}, 2, zap.NewNop())
	require.Error(t, f.FetchNamed(context.Background(), []string{"pinboard", "nope"}))
	require.Zero(t, runner.runs)
}
