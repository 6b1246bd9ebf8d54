// Package chunker divides file text into bounded, overlapping segments that
// become the level-0 leaves of the retrieval tree.
//
// Chunks always cover the whole text with no gaps, never exceed the
// configured size, and consecutive chunks share a fixed overlap so that
// context spanning a cut survives in at least one chunk. Cut points prefer
// the nearest newline or space before the size limit, falling back to a
// hard cut when none exists within the lookback window. Multi-byte runes
// are never split.
//
//	c := chunker.New(chunker.WithMaxChars(2000), chunker.WithOverlap(200))
//	chunks := c.Chunk("internal/service.go", text)
//
// The chunker is pure: it performs no I/O and the same input always yields
// the same chunks, including content hashes.
package chunker
