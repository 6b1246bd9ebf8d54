package embedder

import (
	"fmt"
	"os"
	"time"

	"github.com/raptorlabs/raptor-mcp/internal/config"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// New creates the configured embedder. Provider selection errors are
// ErrConfig: a misconfigured capability is fatal, unlike a failing one.
func New(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Provider {
	case ProviderLocal:
		return NewLocalEmbedder(0), nil

	case ProviderOpenAI:
		oc := cfg.OpenAI
		if oc == nil {
			return nil, fmt.Errorf("%w: openai embedder selected without openai settings", types.ErrConfig)
		}
		apiKey := os.Getenv(oc.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: %s not set", types.ErrConfig, oc.APIKeyEnv)
		}
		emb, err := NewOpenAIEmbedder(OpenAIOptions{
			APIKey:         apiKey,
			BaseURL:        oc.BaseURL,
			Model:          oc.EmbeddingModel,
			RequestsPerSec: oc.RequestsPerSec,
			RetryCount:     cfg.RetryCount,
			Timeout:        time.Duration(oc.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrConfig, err)
		}
		return emb, nil

	default:
		return nil, fmt.Errorf("%w: %v: %s", types.ErrConfig, ErrUnknownProvider, cfg.Provider)
	}
}

// NewCachedFromConfig builds the configured embedder wrapped in its cache.
func NewCachedFromConfig(cfg config.EmbedderConfig) (*Cache, error) {
	emb, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return NewCache(emb, cfg.CacheSize), nil
}
