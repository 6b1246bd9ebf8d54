package types

import "errors"

// Domain error sentinels. Wrap with fmt.Errorf("...: %w", err) and test with
// errors.Is. Only ErrConfig aborts an operation; every other kind is
// recovered locally and surfaced as a Warning in the returned stats.
var (
	// ErrConfig indicates invalid configuration (bad root path, overlap >=
	// max_chars, unusable provider settings). Fatal, propagated to callers.
	ErrConfig = errors.New("invalid configuration")

	// ErrEmbedding indicates the embedding capability failed after retries.
	ErrEmbedding = errors.New("embedding failed")

	// ErrSummarization indicates the summarizer failed or returned an empty
	// result after retries.
	ErrSummarization = errors.New("summarization failed")

	// ErrClustering indicates malformed similarity input (NaN, zero vector).
	ErrClustering = errors.New("clustering input malformed")

	// ErrCorruptIndex indicates a persisted snapshot failed its integrity
	// check on load. Callers fall back to a full build.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrBuildCancelled indicates an in-flight build or update was displaced
	// by a newer request or by shutdown. The published snapshot is untouched.
	ErrBuildCancelled = errors.New("build cancelled")
)

// WarningKind labels a recovered failure accumulated into operation stats.
type WarningKind string

const (
	WarnIO            WarningKind = "io"
	WarnEmbedding     WarningKind = "embedding"
	WarnSummarization WarningKind = "summarization"
	WarnClustering    WarningKind = "clustering"
)

// Warning records a locally-recovered failure: which kind, what it affected,
// and a human-readable message.
type Warning struct {
	Kind    WarningKind
	Subject string // file path or node id, whichever applies
	Message string
}

func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Subject + ": " + w.Message
}
