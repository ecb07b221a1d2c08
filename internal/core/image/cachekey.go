package image

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// ErrManifestMissing is returned when a manifest file cannot be read.
var ErrManifestMissing = errors.New("dependency manifest not found")

// ManifestCacheKey computes the dependency-layer cache key: the SHA-256 of
// each manifest's name and contents, in the order given. Identical manifests
// give identical keys.
func ManifestCacheKey(fsys fs.FS, files []string) (string, error) {
	h := sha256.New()
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrManifestMissing, name, err)
		}
		writeField(h, []byte(name))
		writeField(h, data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeField length-prefixes a value so adjacent fields cannot collide.
func writeField(h io.Writer, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
