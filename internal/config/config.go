// Package config loads and validates index configuration from a YAML file,
// with sensible defaults when no file exists. Secrets (API keys) come from
// the environment, never from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// OpenAIConfig holds settings for the OpenAI-backed embedder and summarizer.
type OpenAIConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	EmbeddingModel string  `yaml:"embedding_model"`
	ChatModel      string  `yaml:"chat_model"`
	TimeoutSecs    int     `yaml:"timeout_secs"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider   string        `yaml:"provider"` // "openai" or "local"
	RetryCount int           `yaml:"retry_count"`
	CacheSize  int           `yaml:"cache_size"`
	OpenAI     *OpenAIConfig `yaml:"openai,omitempty"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Provider      string `yaml:"provider"` // "llm" or "extractive"
	RetryCount    int    `yaml:"retry_count"`
	MaxInputChars int    `yaml:"max_input_chars"`
}

// Config is the root configuration for the index.
type Config struct {
	// Chunking.
	MaxChars         int `yaml:"max_chars"`
	Overlap          int `yaml:"overlap"`
	BoundaryLookback int `yaml:"boundary_lookback"`

	// Tree building.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxDepth            int     `yaml:"max_depth"`
	Workers             int     `yaml:"workers"`
	YieldEvery          int     `yaml:"yield_every"`

	Embedder   EmbedderConfig   `yaml:"embedder"`
	Summarizer SummarizerConfig `yaml:"summarizer"`

	// Persistence. Empty disables on-disk snapshots.
	DBPath string `yaml:"db_path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		MaxChars:            2000,
		Overlap:             200,
		BoundaryLookback:    200,
		SimilarityThreshold: 0.82,
		MaxDepth:            8,
		Workers:             0, // 0 means runtime.NumCPU at point of use
		YieldEvery:          32,
		Embedder: EmbedderConfig{
			Provider:   "local",
			RetryCount: 3,
			CacheSize:  10000,
			OpenAI: &OpenAIConfig{
				APIKeyEnv:      "OPENAI_API_KEY",
				EmbeddingModel: "text-embedding-3-small",
				ChatModel:      "gpt-4o-mini",
				TimeoutSecs:    30,
				RequestsPerSec: 4,
			},
		},
		Summarizer: SummarizerConfig{
			Provider:      "extractive",
			RetryCount:    3,
			MaxInputChars: 8000,
		},
	}
}

// Load reads configuration from path. A missing file yields defaults; a
// malformed or invalid file yields ErrConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", types.ErrConfig, path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", types.ErrConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./raptor.yaml, then ~/.config/raptor/config.yaml.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("raptor.yaml"); err == nil {
		return Load("raptor.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Default(), nil
	}
	return Load(filepath.Join(home, ".config", "raptor", "config.yaml"))
}

// Validate checks option ranges. Every violation is an ErrConfig.
func (c *Config) Validate() error {
	if c.MaxChars <= 0 {
		return fmt.Errorf("%w: max_chars must be positive, got %d", types.ErrConfig, c.MaxChars)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChars {
		return fmt.Errorf("%w: overlap must satisfy 0 <= overlap < max_chars, got %d", types.ErrConfig, c.Overlap)
	}
	if c.BoundaryLookback < 0 {
		return fmt.Errorf("%w: boundary_lookback must be non-negative", types.ErrConfig)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in (0, 1], got %g", types.ErrConfig, c.SimilarityThreshold)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth must be at least 1", types.ErrConfig)
	}
	if c.YieldEvery <= 0 {
		return fmt.Errorf("%w: yield_every must be positive", types.ErrConfig)
	}
	if c.Embedder.CacheSize <= 0 {
		return fmt.Errorf("%w: embedder cache_size must be positive", types.ErrConfig)
	}
	switch c.Embedder.Provider {
	case "openai", "local":
	default:
		return fmt.Errorf("%w: unknown embedder provider %q", types.ErrConfig, c.Embedder.Provider)
	}
	switch c.Summarizer.Provider {
	case "llm", "extractive":
	default:
		return fmt.Errorf("%w: unknown summarizer provider %q", types.ErrConfig, c.Summarizer.Provider)
	}
	return nil
}
