package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

const (
	// DefaultMaxChars is the default chunk size in bytes.
	DefaultMaxChars = 2000

	// DefaultOverlap is the default number of overlapping bytes between
	// consecutive chunks.
	DefaultOverlap = 200

	// DefaultLookback is how far back from the hard cut to search for a
	// whitespace boundary.
	DefaultLookback = 200
)

// Chunker splits file text into bounded, overlapping segments. It is pure:
// no I/O, and identical inputs always produce identical chunks.
type Chunker struct {
	maxChars int
	overlap  int
	lookback int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChars sets the maximum chunk size in bytes.
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in bytes.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// WithLookback sets the boundary-search window. Zero disables boundary
// splitting entirely (every cut is a hard cut).
func WithLookback(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.lookback = n
		}
	}
}

// New creates a Chunker. An overlap >= maxChars is clamped to a quarter of
// the chunk size so the loop always advances.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxChars: DefaultMaxChars,
		overlap:  DefaultOverlap,
		lookback: DefaultLookback,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.maxChars {
		c.overlap = c.maxChars / 4
	}
	return c
}

// Chunk splits text into ordered chunks covering [0, len(text)) with no
// gaps. Each chunk is at most maxChars bytes; consecutive chunks share
// overlap bytes, clamped at text boundaries. Cuts prefer the nearest newline
// or space at or before the hard cut within the lookback window, and never
// split a UTF-8 rune.
func (c *Chunker) Chunk(path, text string) []types.Chunk {
	if text == "" {
		return nil
	}

	var chunks []types.Chunk
	length := len(text)
	i := 0

	for i < length {
		end := i + c.maxChars
		if end > length {
			end = length
		}
		end = floorRune(text, end)

		cut := end
		if cut < length {
			cut = c.boundaryCut(text, i, cut)
		}

		// Always make progress, even on pathological input.
		if cut <= i {
			cut = ceilRune(text, i+1)
			if cut > length {
				cut = length
			}
		}

		chunk := types.Chunk{
			SourcePath: path,
			Start:      i,
			End:        cut,
			Text:       text[i:cut],
		}
		chunk.ComputeContentHash()
		chunks = append(chunks, chunk)

		if cut >= length {
			break
		}

		next := floorRune(text, cut-c.overlap)
		if next <= i {
			next = cut
		}
		i = next
	}

	return chunks
}

// boundaryCut searches [cut-lookback, cut) for the last newline, then the
// last space, and cuts just after it. Returns the original cut when no
// separator exists in the window.
func (c *Chunker) boundaryCut(text string, start, cut int) int {
	if c.lookback == 0 {
		return cut
	}
	windowStart := cut - c.lookback
	if windowStart <= start {
		windowStart = start + 1
	}
	if windowStart >= cut {
		return cut
	}
	window := text[windowStart:cut]
	if idx := strings.LastIndexByte(window, '\n'); idx >= 0 {
		return windowStart + idx + 1
	}
	if idx := strings.LastIndexByte(window, ' '); idx >= 0 {
		return windowStart + idx + 1
	}
	return cut
}

// floorRune moves i down to the nearest rune start at or before it.
func floorRune(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// ceilRune moves i up to the nearest rune start at or after it.
func ceilRune(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
