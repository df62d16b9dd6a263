// Package archive defines core types shared across subsystems.
package archive

import (
	"time"
)

// Item is one archived unit of content: a bookmarked link, a pin, or a
// screenshot, together with its metadata and pointers to stored media.
type Item struct {
	// ID is a stable content-derived identifier: the hex SHA-256 of the
	// canonical source URL or of the file bytes. Re-crawling the same
	// logical item always yields the same ID.
	ID string `json:"id"`

	// SourceRef is the original URL or filesystem path the item came from.
	SourceRef string `json:"source_ref"`

	// CapturedAt is the crawl time; CreatedAt is the origin-reported
	// creation time when the source provides one.
	CapturedAt time.Time  `json:"captured_at"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`

	Title string   `json:"title"`
	Note  string   `json:"note"`
	Tags  []string `json:"tags"`

	// Fulltext is the extracted text of the archived page, indexed for
	// search but never shipped to front-ends. Empty for sources without
	// a page body.
	Fulltext string `json:"-"`

	// MediaRef names the stored binary asset (screenshot or original
	// image) relative to the source's assets directory; empty when the
	// item has no media.
	MediaRef string `json:"media_ref,omitempty"`

	// FrozenRef names a frozen HTML snapshot relative to the source's
	// frozen directory; empty when none was captured.
	FrozenRef string `json:"frozen_ref,omitempty"`

	// Pixel dimensions of the media asset, zero when unknown.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Delta is the result of diffing a crawl result against the persisted set.
type Delta struct {
	ToInsert []Item
	ToRemove []Item
}

// RunReport summarizes a completed sync run.
type RunReport struct {
	RunID      string
	Source     string
	Crawled    int
	Inserted   int
	Removed    int
	Failed     int
	ThumbsMade int
	Duration   time.Duration
}
