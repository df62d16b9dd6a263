// Package metrics exposes Prometheus collectors for the archive toolkit.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncItemsTotal      *prometheus.CounterVec
	syncRunsTotal       *prometheus.CounterVec
	syncRunDuration     *prometheus.HistogramVec
	cacheLookupsTotal   *prometheus.CounterVec
	searchRequestsTotal *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		syncItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivist_sync_items_total",
				Help: "Items processed by sync runs, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		syncRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivist_sync_runs_total",
				Help: "Completed sync runs, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		syncRunDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archivist_sync_run_duration_seconds",
				Help:    "Wall-clock duration of sync runs, labeled by source.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"source"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivist_cache_lookups_total",
				Help: "Content cache lookups, labeled by result (hit/miss).",
			},
			[]string{"result"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivist_search_requests_total",
				Help: "Search requests, labeled by interface (cli/http).",
			},
			[]string{"interface"},
		)
	})
}

// RecordItem counts one item processed by a sync run.
// Outcome is one of "inserted", "removed", "failed".
func RecordItem(source, outcome string) {
	if syncItemsTotal != nil {
		syncItemsTotal.WithLabelValues(source, outcome).Inc()
	}
}

// RecordRun counts a finished sync run and observes its duration.
func RecordRun(source, status string, d time.Duration) {
	if syncRunsTotal != nil {
		syncRunsTotal.WithLabelValues(source, status).Inc()
	}
	if syncRunDuration != nil {
		syncRunDuration.WithLabelValues(source).Observe(d.Seconds())
	}
}

// RecordCacheLookup counts one cache lookup.
func RecordCacheLookup(hit bool) {
	if cacheLookupsTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordSearch counts one search request.
func RecordSearch(iface string) {
	if searchRequestsTotal != nil {
		searchRequestsTotal.WithLabelValues(iface).Inc()
	}
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
