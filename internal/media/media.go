// Package media manages the on-disk layout of one source's binary
// artifacts: original assets, derived thumbnails, and frozen page
// snapshots, all named by content hash.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Subdirectories of a source's data directory.
const (
	assetsDir = "assets"
	thumbsDir = "thumbs"
	frozenDir = "frozen"
)

// Dir is the media store rooted at one source's data directory.
type Dir struct {
	root string
}

// New creates the media directories under root and verifies writability.
func New(root string) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("media: root directory is required")
	}
	for _, sub := range []string{assetsDir, thumbsDir, frozenDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o750); err != nil {
			return nil, fmt.Errorf("media: create %s: %w", sub, err)
		}
	}

	probe := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("media: root is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("media: clean up probe file: %w", err)
	}

	return &Dir{root: root}, nil
}

// Root returns the source's data directory.
func (d *Dir) Root() string { return d.root }

// AssetPath returns the absolute path for a stored asset name.
func (d *Dir) AssetPath(name string) string {
	return filepath.Join(d.root, assetsDir, name)
}

// ThumbPath returns the absolute path of the derived thumbnail for an id.
func (d *Dir) ThumbPath(id string) string {
	return filepath.Join(d.root, thumbsDir, id+".jpg")
}

// FrozenPath returns the absolute path for a frozen snapshot name.
func (d *Dir) FrozenPath(name string) string {
	return filepath.Join(d.root, frozenDir, name)
}

// WriteAsset persists an original media file and returns its name.
func (d *Dir) WriteAsset(name string, data []byte) (string, error) {
	return d.write(filepath.Join(d.root, assetsDir, name), data)
}

// WriteThumb persists the derived thumbnail for an id.
func (d *Dir) WriteThumb(id string, data []byte) (string, error) {
	return d.write(d.ThumbPath(id), data)
}

// WriteFrozen persists a frozen snapshot and returns its name.
func (d *Dir) WriteFrozen(name string, data []byte) (string, error) {
	return d.write(filepath.Join(d.root, frozenDir, name), data)
}

func (d *Dir) write(target string, data []byte) (string, error) {
	name := filepath.Base(target)
	if strings.TrimSpace(name) == "" || name == "." {
		return "", fmt.Errorf("media: file name is required")
	}

	// Names come from content hashes, but guard traversal anyway.
	cleanRoot := filepath.Clean(d.root)
	cleanTarget := filepath.Clean(target)
	if !strings.HasPrefix(cleanTarget, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("media: path traversal detected")
	}

	if err := os.WriteFile(cleanTarget, data, 0o600); err != nil {
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}
	return name, nil
}

// HasThumb reports whether the thumbnail for id exists.
func (d *Dir) HasThumb(id string) bool {
	_, err := os.Stat(d.ThumbPath(id))
	return err == nil
}

// RemoveItemFiles deletes the asset, frozen snapshot, and thumbnail that
// belong to an orphaned item. Best-effort: missing files are not errors;
// the first real failure is returned after attempting every file.
func (d *Dir) RemoveItemFiles(id, mediaRef, frozenRef string) error {
	var firstErr error
	paths := []string{d.ThumbPath(id)}
	if mediaRef != "" {
		paths = append(paths, d.AssetPath(mediaRef))
	}
	if frozenRef != "" {
		paths = append(paths, d.FrozenPath(frozenRef))
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("media: remove %s: %w", filepath.Base(p), err)
		}
	}
	return firstErr
}
