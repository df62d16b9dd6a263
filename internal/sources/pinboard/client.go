// Package pinboard archives Pinboard bookmarks: the posts/all API feed
// crawled incrementally, each new bookmark enriched with a page screenshot
// and a frozen HTML snapshot.
package pinboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultAPIBase = "https://api.pinboard.in/v1"

// post is one bookmark as returned by the posts/all endpoint.
type post struct {
	Href        string `json:"href"`
	Description string `json:"description"`
	Extended    string `json:"extended"`
	Tags        string `json:"tags"`
	Time        string `json:"time"`
}

// Client talks to the Pinboard JSON API.
type Client struct {
	apiBase  string
	apiToken string
	http     *http.Client
}

// NewClient builds a Client for the given API token ("user:HEX").
func NewClient(apiToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiBase:  defaultAPIBase,
		apiToken: apiToken,
		http:     &http.Client{Timeout: timeout},
	}
}

// All returns every bookmark on the account.
func (c *Client) All(ctx context.Context) ([]post, error) {
	u, err := url.Parse(c.apiBase + "/posts/all")
	if err != nil {
		return nil, fmt.Errorf("pinboard: parse api url: %w", err)
	}
	q := u.Query()
	q.Set("format", "json")
	q.Set("auth_token", c.apiToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("pinboard: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pinboard: call posts/all: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pinboard: posts/all returned %d", resp.StatusCode)
	}

	var posts []post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("pinboard: decode posts/all: %w", err)
	}
	return posts, nil
}
