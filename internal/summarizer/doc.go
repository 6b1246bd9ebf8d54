// Package summarizer condenses clusters of node texts into the parent
// node's text. The primary implementation calls an OpenAI-compatible
// chat model; a deterministic extractive summarizer serves both as the
// local default and as the fallback when the model is unavailable.
package summarizer
