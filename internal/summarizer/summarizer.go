package summarizer

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// Common errors
var (
	ErrEmptyInput  = errors.New("input text cannot be empty")
	ErrEmptyResult = errors.New("summarizer returned empty result")
)

// Summarizer condenses a cluster's concatenated member texts into one
// summary. Implementations treat the input as already truncated to the
// configured maximum.
type Summarizer interface {
	// Summarize returns a condensed form of text.
	Summarize(ctx context.Context, text string) (string, error)

	// Provider returns the implementation name.
	Provider() string
}

// JoinTexts concatenates cluster member texts with a blank-line separator
// and truncates the result to maxChars bytes (on a rune boundary). A
// non-positive maxChars disables truncation.
func JoinTexts(texts []string, maxChars int) string {
	joined := strings.Join(texts, "\n\n")
	return Truncate(joined, maxChars)
}

// Truncate cuts text to at most maxChars bytes without splitting a rune.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
