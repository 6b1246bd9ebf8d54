package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// Provider names recognized by the factory.
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// LocalDimension is the vector size produced by the local embedder.
	LocalDimension = 384

	// OpenAIDimension matches text-embedding-3-small.
	OpenAIDimension = 1536

	// MaxBatchSize bounds a single batch request.
	MaxBatchSize = 128
)

// OpenAIEmbedder produces embeddings through the OpenAI API. Calls are rate
// limited and retried with exponential backoff.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	limiter *rate.Limiter
	retry   RetryConfig
	timeout time.Duration
}

// OpenAIOptions configures the OpenAI embedder.
type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestsPerSec float64
	RetryCount     int
	Timeout        time.Duration
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(opts OpenAIOptions) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := openai.EmbeddingModel(opts.Model)
	if opts.Model == "" {
		model = openai.SmallEmbedding3
	}
	rps := opts.RequestsPerSec
	if rps <= 0 {
		rps = 4
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   DefaultRetryConfig(opts.RetryCount),
		timeout: timeout,
	}, nil
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", ErrProviderFailed, len(texts), MaxBatchSize)
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
	}

	return retryWithBackoff(ctx, o.retry, func() ([][]float32, error) {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		resp, err := o.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Input: texts,
			Model: o.model,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}
		if len(resp.Data) != len(texts) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Data), len(texts))
		}

		vecs := make([][]float32, len(texts))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(vecs) {
				return nil, fmt.Errorf("%w: embedding index %d out of range", ErrProviderFailed, d.Index)
			}
			vecs[d.Index] = d.Embedding
		}
		return vecs, nil
	})
}

func (o *OpenAIEmbedder) Dimension() int {
	return OpenAIDimension
}

func (o *OpenAIEmbedder) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIEmbedder) Close() error {
	return nil
}

// LocalEmbedder derives a unit vector deterministically from the text's
// SHA-256. It needs no network or model, which makes clustering and
// tree-building tests reproducible, and serves as the offline fallback.
// Distinct texts land on effectively uncorrelated directions.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder creates a local embedder. A non-positive dim uses
// LocalDimension.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = LocalDimension
	}
	return &LocalEmbedder{dim: dim}
}

func (l *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, l.dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < l.dim; i++ {
		if i%8 == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		word := binary.LittleEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1).
		vec[i] = float32(int32(word)) / float32(math.MaxInt32)
	}

	normalize(vec)
	return vec, nil
}

func (l *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := l.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		vecs[i] = vec
	}
	return vecs, nil
}

func (l *LocalEmbedder) Dimension() int {
	return l.dim
}

func (l *LocalEmbedder) Provider() string {
	return ProviderLocal
}

func (l *LocalEmbedder) Close() error {
	return nil
}

// normalize scales v to unit length in place. Zero vectors are left as-is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
