package summarizer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// smallClusterSize is the member count at or below which the cheap
// extractive path is used directly, skipping the primary summarizer.
const smallClusterSize = 2

// Fallback wraps a primary summarizer with retries and an extractive
// fallback. Summaries of non-empty input never fail: when the primary
// is exhausted the extractive result is returned together with the
// primary's last error so the caller can record a warning.
type Fallback struct {
	primary    Summarizer
	extractive *Extractive
	retries    int
	baseDelay  time.Duration
	maxInput   int
}

// NewFallback wraps primary with retry and extractive-fallback behavior.
// A nil primary degrades to extractive-only. retries is the number of
// additional attempts after the first failure.
func NewFallback(primary Summarizer, retries, maxInputChars int) *Fallback {
	return &Fallback{
		primary:    primary,
		extractive: NewExtractive(0),
		retries:    retries,
		baseDelay:  200 * time.Millisecond,
		maxInput:   maxInputChars,
	}
}

// Summarize runs the primary with retries and falls back to the
// extractive summarizer. The returned error, when non-nil alongside a
// non-empty summary, describes the primary failure that forced the
// fallback; callers should treat it as a warning, not a failure.
func (f *Fallback) Summarize(ctx context.Context, text string) (string, error) {
	text = Truncate(text, f.maxInput)

	if f.primary == nil {
		return f.extractive.Summarize(ctx, text)
	}

	var lastErr error
	delay := f.baseDelay
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		out, err := f.primary.Summarize(ctx, text)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		lastErr = err
	}

	out, err := f.extractive.Summarize(ctx, text)
	if err != nil {
		return "", err
	}
	return out, fmt.Errorf("primary summarizer failed after %d attempts, used extractive fallback: %w", f.retries+1, lastErr)
}

// SummarizeCluster condenses the texts of one cluster's members. Small
// clusters take the cheap extractive path directly; larger ones go
// through the primary with fallback.
func (f *Fallback) SummarizeCluster(ctx context.Context, texts []string) (string, error) {
	joined := JoinTexts(texts, f.maxInput)
	if len(texts) <= smallClusterSize {
		return f.extractive.Summarize(ctx, joined)
	}
	return f.Summarize(ctx, joined)
}

// Provider returns the primary's name, or "extractive" when unset.
func (f *Fallback) Provider() string {
	if f.primary == nil {
		return f.extractive.Provider()
	}
	return f.primary.Provider()
}
