// Package sha256 provides SHA-256 content hashing.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Hasher implements archive.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString hashes a string, typically a canonical URL.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashFile streams the file at path through SHA-256.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
