package runlog

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/archivist-dev/archivist/internal/archive"
)

func report(id string) archive.RunReport {
	return archive.RunReport{RunID: id, Source: "pinboard", Inserted: 1}
}

func TestRecentNewestFirst(t *testing.T) {
	t.Parallel()

	l := New(10)
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	l.Record(report("a"), start, nil)
	l.Record(report("b"), start.Add(time.Minute), nil)
	l.Record(report("c"), start.Add(2*time.Minute), errors.New("crawl failed"))

	got := l.Recent()
	require.Len(t, got, 3)
	require.Equal(t, "c", got[0].RunID)
	require.Equal(t, "crawl failed", got[0].Error)
	require.Equal(t, "b", got[1].RunID)
	require.Equal(t, "a", got[2].RunID)
}

func TestCapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	l := New(3)
	for i := 0; i < 5; i++ {
		l.Record(report(fmt.Sprintf("run-%d", i)), time.Now(), nil)
	}

	got := l.Recent()
	require.Len(t, got, 3)
	require.Equal(t, "run-4", got[0].RunID)
	require.Equal(t, "run-2", got[2].RunID)
}

func TestEmptyLog(t *testing.T) {
	t.Parallel()

	require.Empty(t, New(5).Recent())
}

func TestConcurrentRecords(t *testing.T) {
	t.Parallel()

	l := New(100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Record(report("x"), time.Now(), nil)
			}
		}()
	}
	wg.Wait()

	require.Len(t, l.Recent(), 100)
}
