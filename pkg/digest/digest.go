// Package digest computes content digests used as equality keys for extracted
// binary assets. Files with equal bytes always yield equal digests; digests are
// compared case-insensitively by normalizing to lowercase hex at construction.
package digest

import (
	"crypto/sha1" // #nosec G505 -- content identity key, not a security boundary
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Digest is a 40-character lowercase hex SHA-1 of a file's bytes.
type Digest string

// Size is the digest length in hex characters.
const Size = 40

// Zero is the sentinel digest the extraction pipeline emits for unreadable
// frames. Ledgers and evidence tables always filter it.
const Zero Digest = "0000000000000000000000000000000000000000"

// blockSize is the fixed read block for streaming hashing.
const blockSize = 64 * 1024

// Normalize lowercases and trims a raw digest string.
func Normalize(s string) Digest {
	return Digest(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether d is a well-formed digest: exact length, hex only.
func (d Digest) Valid() bool {
	if len(d) != Size {
		return false
	}
	for _, c := range d {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// IsZero reports whether d is the all-zero sentinel.
func (d Digest) IsZero() bool {
	return d == Zero
}

func (d Digest) String() string {
	return string(d)
}

// File streams the file at path in fixed blocks and returns its digest.
// The whole file is never held in memory. I/O errors propagate to the caller
// without retry.
func File(path string) (Digest, error) {
	f, err := os.Open(path) // #nosec G304 -- callers pass paths discovered by the scanner
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return Reader(f)
}

// Reader consumes r to EOF and returns the digest of the bytes read.
func Reader(r io.Reader) (Digest, error) {
	h := sha1.New() // #nosec G401 -- content identity key, not a security boundary
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}
