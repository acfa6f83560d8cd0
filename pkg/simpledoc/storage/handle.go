// Package storage holds helpers shared by the content-addressed blob store
// backends. A handle is the lowercase hex SHA-256 of the content, so equal
// content always maps to the same handle and a handle's bytes never change.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// HandleLength is the length of a hex SHA-256 handle.
const HandleLength = sha256.Size * 2

// ValidHandle reports whether h looks like a handle produced by Digest.
func ValidHandle(h string) bool {
	if len(h) != HandleLength {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Digest hashes and counts everything read through it.
type Digest struct {
	r    io.Reader
	h    hash.Hash
	size int64
}

// NewDigest wraps r.
func NewDigest(r io.Reader) *Digest {
	return &Digest{r: r, h: sha256.New()}
}

func (d *Digest) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.size += int64(n)
	}
	return n, err
}

// Handle returns the handle of the bytes read so far.
func (d *Digest) Handle() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size returns the number of bytes read so far.
func (d *Digest) Size() int64 {
	return d.size
}
