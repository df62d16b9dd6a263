package pinboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SnapshotFinder locates an archived copy of a page that cannot be
// reached directly.
type SnapshotFinder interface {
	ClosestSnapshot(ctx context.Context, pageURL string) (string, error)
}

const waybackAvailableURL = "https://archive.org/wayback/available"

// Wayback queries the Internet Archive availability API for the closest
// stored snapshot of a page. Dead bookmarks still get archived this way.
type Wayback struct {
	endpoint string
	client   *http.Client
}

// NewWayback builds a snapshot finder against the public availability API.
func NewWayback(timeout time.Duration) *Wayback {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Wayback{
		endpoint: waybackAvailableURL,
		client:   &http.Client{Timeout: timeout},
	}
}

type waybackResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// ClosestSnapshot returns the URL of the closest snapshot, or "" when the
// archive holds none.
func (wb *Wayback) ClosestSnapshot(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		wb.endpoint+"?url="+url.QueryEscape(pageURL), nil)
	if err != nil {
		return "", fmt.Errorf("wayback: build request: %w", err)
	}

	resp, err := wb.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wayback: lookup %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wayback: lookup %s: status %d", pageURL, resp.StatusCode)
	}

	var out waybackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("wayback: decode response: %w", err)
	}

	closest := out.ArchivedSnapshots.Closest
	if !closest.Available || closest.URL == "" {
		return "", nil
	}
	return closest.URL, nil
}
