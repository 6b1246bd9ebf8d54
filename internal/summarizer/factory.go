package summarizer

import (
	"fmt"
	"os"
	"time"

	"github.com/raptorlabs/raptor-mcp/internal/config"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// NewFromConfig builds the configured summarizer wrapped in the retry
// and extractive-fallback layer. The "llm" provider reuses the OpenAI
// settings from the embedder section; a missing API key is a
// configuration error.
func NewFromConfig(cfg config.SummarizerConfig, openAI *config.OpenAIConfig) (*Fallback, error) {
	switch cfg.Provider {
	case "extractive":
		return NewFallback(nil, cfg.RetryCount, cfg.MaxInputChars), nil

	case "llm":
		if openAI == nil {
			return nil, fmt.Errorf("%w: summarizer provider llm requires an openai section", types.ErrConfig)
		}
		apiKey := os.Getenv(openAI.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: environment variable %s is not set", types.ErrConfig, openAI.APIKeyEnv)
		}
		llm, err := NewLLM(LLMConfig{
			APIKey:         apiKey,
			BaseURL:        openAI.BaseURL,
			Model:          openAI.ChatModel,
			Timeout:        time.Duration(openAI.TimeoutSecs) * time.Second,
			RequestsPerSec: openAI.RequestsPerSec,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrConfig, err)
		}
		return NewFallback(llm, cfg.RetryCount, cfg.MaxInputChars), nil

	default:
		return nil, fmt.Errorf("%w: unknown summarizer provider %q", types.ErrConfig, cfg.Provider)
	}
}
