package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archivist-dev/archivist/internal/cache"
	"github.com/archivist-dev/archivist/internal/hash/sha256"
)

func writeImage(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestHTTP_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]any{"vector": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	path := writeImage(t, t.TempDir(), "img.png", []byte("pixels"))

	e := NewHTTP(srv.URL, time.Second)
	vec, err := e.Embed(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestHTTP_Embed_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	path := writeImage(t, t.TempDir(), "img.png", []byte("pixels"))

	_, err := NewHTTP(srv.URL, time.Second).Embed(context.Background(), path)
	require.ErrorContains(t, err, "503")
}

func TestCached_SameContentHitsOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"vector": []float32{1, 2}})
	}))
	defer srv.Close()

	dir := t.TempDir()
	c, err := cache.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	cached := NewCached(NewHTTP(srv.URL, time.Second), c, sha256.New())

	// Same bytes under two different names: content addressing makes the
	// second a cache hit.
	a := writeImage(t, dir, "a.png", []byte("same bytes"))
	b := writeImage(t, dir, "b.png", []byte("same bytes"))

	ctx := context.Background()
	va, err := cached.Embed(ctx, a)
	require.NoError(t, err)
	vb, err := cached.Embed(ctx, b)
	require.NoError(t, err)

	require.Equal(t, va, vb)
	require.EqualValues(t, 1, calls.Load())
}

func TestCached_FailureNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"vector": []float32{7}})
	}))
	defer srv.Close()

	dir := t.TempDir()
	c, err := cache.Open(filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	defer c.Close()

	cached := NewCached(NewHTTP(srv.URL, time.Second), c, sha256.New())
	path := writeImage(t, dir, "img.png", []byte("pixels"))

	ctx := context.Background()
	_, err = cached.Embed(ctx, path)
	require.Error(t, err)

	vec, err := cached.Embed(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []float32{7}, vec)
}
