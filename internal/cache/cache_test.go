package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *SQLite {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetOrCompute_HitAvoidsRecompute(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("artifact"), nil
	}

	first, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	require.Equal(t, []byte("artifact"), first)

	second, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	require.Equal(t, []byte("artifact"), second)

	require.EqualValues(t, 1, calls.Load(), "compute must run exactly once")
}

func TestGetOrCompute_FailureIsNotCached(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	boom := errors.New("upstream gone")
	failing := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, boom
	}

	_, err := c.GetOrCompute(ctx, "k", failing)
	require.ErrorIs(t, err, boom)

	_, err = c.GetOrCompute(ctx, "k", failing)
	require.ErrorIs(t, err, boom)

	require.EqualValues(t, 2, calls.Load(), "a failed compute must be retried")
}

func TestGetOrCompute_RecoversAfterFailure(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	ctx := context.Background()

	fail := true
	compute := func(context.Context) ([]byte, error) {
		if fail {
			return nil, errors.New("flaky")
		}
		return []byte("ok"), nil
	}

	_, err := c.GetOrCompute(ctx, "k", compute)
	require.Error(t, err)

	fail = false
	got, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), got)
}

func TestGetOrCompute_ConcurrentMissesComputeOnce(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("shared"), nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(ctx, "k", compute)
		}()
	}
	close(release)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		require.Equal(t, []byte("shared"), results[i])
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestEvict(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("v"), nil
	}

	_, err := c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)

	require.NoError(t, c.Evict(ctx, "k"))
	require.NoError(t, c.Evict(ctx, "k"), "evicting an absent key is not an error")

	_, err = c.GetOrCompute(ctx, "k", compute)
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load(), "eviction must force a recompute")
}

func TestGetOrCompute_EmptyKeyRejected(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	_, err := c.GetOrCompute(context.Background(), "", func(context.Context) ([]byte, error) {
		return []byte("x"), nil
	})
	require.Error(t, err)
}

func TestCache_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := Open(path)
	require.NoError(t, err)
	_, err = c.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) {
		return []byte("persisted"), nil
	})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetOrCompute(ctx, "k", func(context.Context) ([]byte, error) {
		t.Fatal("compute must not run on a persisted hit")
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), got)
}
