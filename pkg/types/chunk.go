package types

import (
	"crypto/sha256"
	"errors"
)

// Chunk is a bounded contiguous text segment extracted from one source file.
// Chunks are leaf-only: each becomes exactly one level-0 node.
type Chunk struct {
	SourcePath string
	Start      int // byte offset, inclusive
	End        int // byte offset, exclusive
	Text       string
	ContentHash [32]byte
}

// ComputeContentHash fills ContentHash with the SHA-256 of the chunk text.
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Text))
}

// Validate checks structural consistency of the chunk.
func (c *Chunk) Validate() error {
	if c.SourcePath == "" {
		return errors.New("chunk source path cannot be empty")
	}
	if c.Start < 0 || c.End <= c.Start {
		return errors.New("chunk byte range must be non-empty and non-negative")
	}
	if c.Text == "" {
		return errors.New("chunk text cannot be empty")
	}
	var zero [32]byte
	if c.ContentHash == zero {
		return errors.New("chunk content hash must be computed")
	}
	return nil
}

// HashText returns the SHA-256 of an arbitrary text, in the same form used
// for chunk and file content hashes.
func HashText(text string) [32]byte {
	return sha256.Sum256([]byte(text))
}
