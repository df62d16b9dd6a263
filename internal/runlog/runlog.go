// Package runlog keeps an in-memory history of recent sync runs so
// operators and front-ends can see what the last fetches did without
// digging through logs.
package runlog

import (
	"sync"
	"time"

	"github.com/archivist-dev/archivist/internal/archive"
)

// Entry is one completed (or failed) sync run.
type Entry struct {
	RunID      string        `json:"runId"`
	Source     string        `json:"source"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Crawled    int           `json:"crawled"`
	Inserted   int           `json:"inserted"`
	Removed    int           `json:"removed"`
	Failed     int           `json:"failed"`
	ThumbsMade int           `json:"thumbsMade"`
	Error      string        `json:"error,omitempty"`
}

// Log is a fixed-capacity ring of run entries, newest first. Safe for
// concurrent use; appends never block and never fail.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	filled  bool
}

// New creates a Log that keeps the most recent capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = 50
	}
	return &Log{entries: make([]Entry, capacity)}
}

// Record stores a finished run, evicting the oldest entry when full.
func (l *Log) Record(report archive.RunReport, startedAt time.Time, runErr error) {
	entry := Entry{
		RunID:      report.RunID,
		Source:     report.Source,
		StartedAt:  startedAt,
		Duration:   report.Duration,
		Crawled:    report.Crawled,
		Inserted:   report.Inserted,
		Removed:    report.Removed,
		Failed:     report.Failed,
		ThumbsMade: report.ThumbsMade,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}

	l.mu.Lock()
	l.entries[l.next] = entry
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.filled = true
	}
	l.mu.Unlock()
}

// Recent returns the stored runs, newest first.
func (l *Log) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.filled {
		size = len(l.entries)
	}
	out := make([]Entry, 0, size)
	for i := 1; i <= size; i++ {
		idx := l.next - i
		if idx < 0 {
			idx += len(l.entries)
		}
		out = append(out, l.entries[idx])
	}
	return out
}
