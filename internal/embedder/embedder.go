package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// Common errors
var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrProviderFailed  = errors.New("embedding provider failed")
	ErrUnknownProvider = errors.New("unknown embedding provider")
	ErrMissingAPIKey   = errors.New("api key not set")
)

// Embedder is the narrow embedding capability. Implementations are selected
// by configuration; tests use the deterministic local implementation.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vectors for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension produced by this embedder.
	Dimension() int

	// Provider returns the provider name.
	Provider() string

	// Close releases any resources held by the embedder.
	Close() error
}

// Cache memoizes embeddings by content hash with LRU eviction. It is an
// explicit, constructor-injected component: no ambient global state, so
// tests can instantiate isolated caches.
//
// Concurrent lookups are safe; computation on miss is serialized per key so
// the same text is never embedded twice concurrently.
type Cache struct {
	embedder Embedder
	cache    *lru.Cache[string, []float32]
	group    singleflight.Group
}

// NewCache wraps an embedder with a capacity-bounded LRU cache.
func NewCache(e Embedder, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 10000
	}
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		// Cannot happen with a positive size.
		panic(fmt.Sprintf("lru.New: %v", err))
	}
	return &Cache{embedder: e, cache: cache}
}

// GetOrCompute returns the embedding for text, computing and caching it on
// miss. A hit bumps recency. Failure of the underlying capability surfaces
// as types.ErrEmbedding; no stale or default vector is ever substituted.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, ErrEmptyText)
	}

	key := ComputeHash(text)
	if vec, ok := c.cache.Get(key); ok {
		return copyVector(vec), nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another caller may have filled the entry while this
		// one waited on the flight group.
		if vec, ok := c.cache.Get(key); ok {
			return vec, nil
		}
		vec, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbedding, err)
	}

	return copyVector(v.([]float32)), nil
}

// Dimension reports the wrapped embedder's vector dimension.
func (c *Cache) Dimension() int {
	return c.embedder.Dimension()
}

// Len returns the current number of cached embeddings.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Contains reports whether text's embedding is cached, without bumping
// recency.
func (c *Cache) Contains(text string) bool {
	return c.cache.Contains(ComputeHash(text))
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.cache.Purge()
}

// Close releases the wrapped embedder.
func (c *Cache) Close() error {
	return c.embedder.Close()
}

// ComputeHash returns the hex SHA-256 of text, the cache key form.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// copyVector returns a defensive copy so caller mutations never reach the
// cached value.
func copyVector(v []float32) []float32 {
	cp := make([]float32, len(v))
	copy(cp, v)
	return cp
}
