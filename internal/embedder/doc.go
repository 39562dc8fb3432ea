// Package embedder turns text into vector embeddings and caches query vectors.
//
// Providers:
//   - jina: Jina AI embeddings API (JINA_API_KEY)
//   - openai: OpenAI embeddings API (OPENAI_API_KEY)
//   - local: deterministic hash-derived vectors, no network access
//
// Jina and OpenAI speak the same OpenAI-compatible wire format and share one
// HTTPProvider implementation. Requests are retried with exponential backoff
// (server errors and HTTP 429 only) and may be rate limited with
// Config.RequestsPerSecond.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "A retired hitman seeks vengeance.",
//	})
//
// Providers never return a zero-length vector; ErrEmptyEmbedding is returned
// instead.
//
// # Query Cache
//
// QueryCache persists one vector per distinct search query so the provider is
// called at most once per query:
//
//	qc := embedder.NewQueryCache(store, emb, storage.MatchExact)
//	vec, err := qc.Resolve(ctx, "space horror")
//
// Concurrent Resolve calls for the same new query share a single provider
// call. storage.MatchSubstring accepts any cached query containing the lookup
// string.
//
// # In-memory Cache
//
// Providers also accept an LRU Cache keyed by the SHA-256 of the text. It is
// process-local and lost on restart.
package embedder
