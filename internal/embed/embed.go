// Package embed computes image feature vectors through an external
// inference endpoint. The model itself is a collaborator; this package
// only handles transport and caching.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/archivist-dev/archivist/internal/archive"
)

// HTTP calls a local inference server: POST the image bytes, receive
// {"vector": [...]}.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP builds an embedder for the given endpoint URL.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed posts the image at imagePath and returns its feature vector.
func (e *HTTP) Embed(ctx context.Context, imagePath string) ([]float32, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("embed: read image: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: call %s: %w", e.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("embed: endpoint returned an empty vector")
	}
	return out.Vector, nil
}

// Cached wraps an Embedder with the content-addressed cache so an
// unchanged image never hits the endpoint twice. Keys are derived from
// file content, not file path, so moves and renames stay cache hits.
type Cached struct {
	inner  archive.Embedder
	cache  archive.Cache
	hasher interface {
		HashFile(path string) (string, error)
	}
}

// NewCached builds the caching wrapper.
func NewCached(inner archive.Embedder, cache archive.Cache, hasher interface {
	HashFile(path string) (string, error)
}) *Cached {
	return &Cached{inner: inner, cache: cache, hasher: hasher}
}

// Embed returns the cached vector for the image content, computing and
// persisting it on first sight.
func (c *Cached) Embed(ctx context.Context, imagePath string) ([]float32, error) {
	contentHash, err := c.hasher.HashFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("embed: hash image: %w", err)
	}

	raw, err := c.cache.GetOrCompute(ctx, archive.EmbedCacheKey(contentHash), func(ctx context.Context) ([]byte, error) {
		vector, err := c.inner.Embed(ctx, imagePath)
		if err != nil {
			return nil, err
		}
		return json.Marshal(vector)
	})
	if err != nil {
		return nil, err
	}

	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, fmt.Errorf("embed: decode cached vector: %w", err)
	}
	return vector, nil
}
