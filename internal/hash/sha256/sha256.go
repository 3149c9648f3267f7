// Package sha256 digests page bodies for content-addressed snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectPath lays a digest out under prefix with a two-level fan-out,
// e.g. "snapshots/ab/cd/abcd....html".
func ObjectPath(prefix, digest, ext string) string {
	if len(digest) < 4 {
		return path.Join(prefix, digest+ext)
	}
	return path.Join(prefix, digest[:2], digest[2:4], digest+ext)
}
