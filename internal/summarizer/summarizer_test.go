package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractive_FirstAndLastSentence(t *testing.T) {
	e := NewExtractive(0)
	text := "The cache stores embeddings. It evicts by recency. Misses call the provider."
	out, err := e.Summarize(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "The cache stores embeddings. Misses call the provider.", out)
}

func TestExtractive_SingleSentence(t *testing.T) {
	e := NewExtractive(0)
	out, err := e.Summarize(context.Background(), "Only one sentence here.")
	require.NoError(t, err)
	assert.Equal(t, "Only one sentence here.", out)
}

func TestExtractive_NoTerminators(t *testing.T) {
	e := NewExtractive(0)
	out, err := e.Summarize(context.Background(), "no terminators at all in this text")
	require.NoError(t, err)
	assert.Equal(t, "no terminators at all in this text", out)
}

func TestExtractive_EmptyInput(t *testing.T) {
	e := NewExtractive(0)
	_, err := e.Summarize(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestExtractive_Deterministic(t *testing.T) {
	e := NewExtractive(0)
	text := "Alpha does things. Beta does more. Gamma finishes up."
	a, err := e.Summarize(context.Background(), text)
	require.NoError(t, err)
	b, err := e.Summarize(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "héllo" — é is 2 bytes starting at index 1.
	out := Truncate("héllo", 2)
	assert.Equal(t, "h", out)
	assert.True(t, len(out) <= 2)
}

func TestTruncate_Disabled(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 0))
	assert.Equal(t, "abc", Truncate("abc", -1))
	assert.Equal(t, "abc", Truncate("abc", 10))
}

func TestJoinTexts(t *testing.T) {
	out := JoinTexts([]string{"one", "two"}, 0)
	assert.Equal(t, "one\n\ntwo", out)
}

// failingSummarizer always errors; used to exercise the fallback path.
type failingSummarizer struct {
	calls int
}

func (f *failingSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	f.calls++
	return "", errors.New("model unavailable")
}

func (f *failingSummarizer) Provider() string { return "failing" }

func TestFallback_PrimarySucceeds(t *testing.T) {
	primary := &echoSummarizer{}
	f := NewFallback(primary, 2, 0)
	out, err := f.Summarize(context.Background(), "Some text. More text. Final text.")
	require.NoError(t, err)
	assert.Equal(t, "echo", out)
}

func TestFallback_RetriesThenExtractive(t *testing.T) {
	primary := &failingSummarizer{}
	f := NewFallback(primary, 2, 0)
	f.baseDelay = 0

	out, err := f.Summarize(context.Background(), "First sentence. Middle sentence. Last sentence.")
	// The summary is always produced; the error reports the degradation.
	require.NotEmpty(t, out)
	assert.Equal(t, "First sentence. Last sentence.", out)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "extractive fallback")
	assert.Equal(t, 3, primary.calls) // initial attempt + 2 retries
}

func TestFallback_NilPrimaryUsesExtractive(t *testing.T) {
	f := NewFallback(nil, 3, 0)
	out, err := f.Summarize(context.Background(), "Alpha. Beta. Gamma.")
	require.NoError(t, err)
	assert.Equal(t, "Alpha. Gamma.", out)
}

func TestFallback_ContextCancelled(t *testing.T) {
	primary := &failingSummarizer{}
	f := NewFallback(primary, 5, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Summarize(ctx, "Text to summarize.")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallback_SmallClusterSkipsPrimary(t *testing.T) {
	primary := &failingSummarizer{}
	f := NewFallback(primary, 2, 0)

	out, err := f.SummarizeCluster(context.Background(), []string{"One sentence.", "Two sentence."})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, 0, primary.calls)
}

func TestFallback_LargeClusterUsesPrimary(t *testing.T) {
	primary := &echoSummarizer{}
	f := NewFallback(primary, 2, 0)

	out, err := f.SummarizeCluster(context.Background(), []string{"a.", "b.", "c."})
	require.NoError(t, err)
	assert.Equal(t, "echo", out)
	assert.Equal(t, 1, primary.calls)
}

func TestFallback_TruncatesInput(t *testing.T) {
	primary := &recordingSummarizer{}
	f := NewFallback(primary, 0, 100)

	_, err := f.Summarize(context.Background(), strings.Repeat("x", 500))
	require.NoError(t, err)
	assert.Len(t, primary.lastInput, 100)
}

type echoSummarizer struct {
	calls int
}

func (e *echoSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	e.calls++
	return "echo", nil
}

func (e *echoSummarizer) Provider() string { return "echo" }

type recordingSummarizer struct {
	lastInput string
}

func (r *recordingSummarizer) Summarize(_ context.Context, text string) (string, error) {
	r.lastInput = text
	return "ok", nil
}

func (r *recordingSummarizer) Provider() string { return "recording" }
