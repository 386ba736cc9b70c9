package download

import (
	"crypto/md5"  //nolint:gosec // published ESGF checksums
	"crypto/sha1" //nolint:gosec // published ESGF checksums
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
	"blake3": func() hash.Hash { return blake3.New() },
}

func normalizeAlgorithm(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "")
}

// NewHash returns a hash for the named algorithm. Names are matched
// case-insensitively and "SHA-256" is accepted for "sha256".
func NewHash(algorithm string) (hash.Hash, error) {
	ctor, ok := hashes[normalizeAlgorithm(algorithm)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChecksum, algorithm)
	}
	return ctor(), nil
}

// Algorithms lists the supported checksum algorithms.
func Algorithms() []string {
	out := make([]string, 0, len(hashes))
	for name := range hashes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
