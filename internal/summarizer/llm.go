package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const systemPrompt = "You are a summarization engine. Produce a concise, " +
	"factual summary of the provided passages in a short paragraph. " +
	"Preserve concrete identifiers, names, and numbers. Do not add commentary."

// LLMConfig configures the chat-completion summarizer.
type LLMConfig struct {
	APIKey         string
	BaseURL        string  // optional override for OpenAI-compatible servers
	Model          string  // e.g. "gpt-4o-mini"
	Timeout        time.Duration
	RequestsPerSec float64 // 0 disables client-side rate limiting
	MaxTokens      int
}

// LLM summarizes via an OpenAI-compatible chat completion endpoint.
type LLM struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	maxTok  int
}

// NewLLM creates a chat-completion summarizer.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("summarizer: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}

	return &LLM{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: limiter,
		maxTok:  cfg.MaxTokens,
	}, nil
}

// Summarize sends text to the chat model and returns the completion.
func (l *LLM) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:     l.model,
		MaxTokens: l.maxTok,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResult
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}

// Provider returns the implementation name.
func (l *LLM) Provider() string {
	return "llm"
}
