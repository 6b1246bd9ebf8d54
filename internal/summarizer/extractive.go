package summarizer

import (
	"context"
	"regexp"
	"strings"
)

// sentenceEnd matches a sentence terminator followed by whitespace.
var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Extractive is a deterministic, model-free summarizer: it keeps the
// first and last sentences of the input. It never fails on non-empty
// input, which makes it a safe fallback for the LLM path.
type Extractive struct {
	maxChars int
}

// NewExtractive returns an extractive summarizer whose output is capped
// at maxChars bytes. A non-positive maxChars disables the cap.
func NewExtractive(maxChars int) *Extractive {
	return &Extractive{maxChars: maxChars}
}

// Summarize keeps the first and last sentences of text. Single-sentence
// input is returned as-is (modulo truncation).
func (e *Extractive) Summarize(_ context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	sentences := splitSentences(text)
	var out string
	switch len(sentences) {
	case 0:
		out = text
	case 1:
		out = sentences[0]
	default:
		first := sentences[0]
		last := sentences[len(sentences)-1]
		if first == last {
			out = first
		} else {
			out = first + " " + last
		}
	}
	return Truncate(out, e.maxChars), nil
}

// Provider returns the implementation name.
func (e *Extractive) Provider() string {
	return "extractive"
}

// splitSentences breaks text on terminator-plus-whitespace boundaries,
// keeping the terminator with its sentence. Blank fragments are dropped.
func splitSentences(text string) []string {
	locs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sentences []string
	start := 0
	for _, loc := range locs {
		// loc[0] is the terminator rune; keep it with the sentence.
		s := strings.TrimSpace(text[start : loc[0]+1])
		if s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1]
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
