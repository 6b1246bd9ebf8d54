// Package embedder provides the embedding capability behind the retrieval
// index: a narrow Embedder interface, provider implementations (OpenAI API
// and a deterministic local fallback), and a content-hash-keyed LRU cache.
//
// The cache is the component the rest of the system talks to:
//
//	emb, _ := embedder.New(cfg.Embedder)
//	cache := embedder.NewCache(emb, cfg.Embedder.CacheSize)
//	vec, err := cache.GetOrCompute(ctx, text)
//
// Lookups are concurrent-safe; computation on miss is serialized per content
// hash so identical texts are never embedded twice at once. Provider
// failures surface as types.ErrEmbedding after bounded retries with
// exponential backoff; callers decide the fallback policy.
package embedder
