// Package hasher computes content digests used for change detection.
package hasher

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
)

// Digest is the hex-encoded fingerprint of a file's content.
type Digest string

// String returns the hex form of the digest.
func (d Digest) String() string {
	return string(d)
}

// Hasher fingerprints source file content with XXH64.
// It is used for equality checks only, not for integrity or security.
type Hasher struct{}

// New creates a new Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the digest of data.
func (h *Hasher) Hash(data []byte) Digest {
	return Digest(fmt.Sprintf("%016x", xxhash.Sum64(data)))
}

// HashFile reads the file at path and returns its content together with the digest.
// The content is returned so callers can process the exact bytes that were hashed.
func (h *Hasher) HashFile(path string) ([]byte, Digest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the source directory listing
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, h.Hash(data), nil
}
