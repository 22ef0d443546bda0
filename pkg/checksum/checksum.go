// Package checksum computes the SHA-256 digests recorded by the staging
// storage backends. Digests are lower-case hex.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Sum returns the checksum of an in-memory buffer.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader hashes everything read through it.
type Reader struct {
	r      io.Reader
	hasher hash.Hash
	n      int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, hasher: sha256.New()}
}

func (c *Reader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hasher.Write(p[:n])
		c.n += int64(n)
	}
	return n, err
}

// Hex returns the checksum of the bytes read so far.
func (c *Reader) Hex() string {
	return hex.EncodeToString(c.hasher.Sum(nil))
}

// BytesRead returns how many bytes passed through the reader.
func (c *Reader) BytesRead() int64 {
	return c.n
}
