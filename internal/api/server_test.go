package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archivist-dev/archivist/internal/archive"
	"github.com/archivist-dev/archivist/internal/media"
	"github.com/archivist-dev/archivist/internal/query"
	"github.com/archivist-dev/archivist/internal/runlog"
	"github.com/archivist-dev/archivist/internal/store"
)

type fakeRunner struct {
	mu    stdsync.Mutex
	runs  int
	err   error
	block chan struct{} // when set, Run waits until closed
}

func (f *fakeRunner) Run(context.Context) (archive.RunReport, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	return archive.RunReport{RunID: "run-1"}, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func newServer(t *testing.T) (*Server, string, *fakeRunner) {
	t.Helper()
	dataDir := t.TempDir()

	sourceDir := filepath.Join(dataDir, "pinboard")
	st, err := store.Open(filepath.Join(sourceDir, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir, err := media.New(sourceDir)
	require.NoError(t, err)

	captured := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	mediaName, err := dir.WriteAsset("abc123.png", []byte("png bytes"))
	require.NoError(t, err)
	require.NoError(t, st.UpsertMany(context.Background(), []archive.Item{{
		ID:         "abc123",
		SourceRef:  "https://example.com/page",
		CapturedAt: captured,
		Title:      "espresso grinder notes",
		MediaRef:   mediaName,
	}}))

	runner := &fakeRunner{}
	facade := query.New([]query.Entry{{
		Name:   "pinboard",
		Store:  st,
		Media:  dir,
		Engine: runner,
	}}, 2, zap.NewNop())

	runs := runlog.New(10)
	runs.Record(archive.RunReport{RunID: "run-0", Source: "pinboard", Inserted: 1},
		time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), nil)

	return NewServer(facade, runs, dataDir, zap.NewNop()), dataDir, runner
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=espresso", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var results []query.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, "abc123", results[0].ID)
	require.Equal(t, "pinboard", results[0].Meta.Source)

	// Media paths come back as /media/ URLs, not filesystem paths.
	require.Equal(t, "/media/pinboard/assets/abc123.png", results[0].Img)
}

func TestSearchEndpointNoMatches(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=zzzznope", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestSearchEndpointRejectsBadLimit(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	for _, raw := range []string{"zero", "0", "-3"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?limit="+raw, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestFetchEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, runner := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fetch/pinboard", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return runner.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestFetchEndpointAcknowledgesBeforeRunCompletes(t *testing.T) {
	t.Parallel()

	srv, _, runner := newServer(t)
	runner.block = make(chan struct{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fetch/pinboard", nil))

	// The 202 comes back while the run is still blocked: a slow sync must
	// never hold the request open.
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 0, runner.count())

	close(runner.block)
	require.Eventually(t, func() bool { return runner.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestFetchEndpointUnknownSource(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fetch/instagram", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaEndpointServesAssets(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/pinboard/assets/abc123.png", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "png bytes", rec.Body.String())
}

func TestMediaEndpointHidesDatabases(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	// data.db exists right beside the media directories; it must stay
	// unreachable, as must anything outside assets/thumbs/frozen.
	for _, path := range []string{
		"/media/pinboard/data.db",
		"/media/pinboard/cache.db",
		"/media/pinboard",
		"/media/pinboard/backups/data.db",
	} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestMediaEndpointRejectsTraversal(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/pinboard/assets/../data.db", nil))
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSourcesEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sources", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"sources":["pinboard"]}`, rec.Body.String())
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Runs []runlog.Entry `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Runs, 1)
	require.Equal(t, "run-0", payload.Runs[0].RunID)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv, _, _ := newServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
